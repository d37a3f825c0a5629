package statemachine

import (
	"fmt"
	"sync"
)

// StateFn represents a state function following Rob Pike's pattern.
// State functions are the states themselves, and each returns the next
// state function.
type StateFn[T any] func(*T) StateFn[T]

// StateMachine is a simple, thread-safe state machine wrapper. The entity
// carries the data, the state functions carry the behavior.
type StateMachine[T any] struct {
	entity  *T
	stateFn StateFn[T]
	mutex   sync.RWMutex
}

// NewStateMachine creates a new state machine for the given entity.
func NewStateMachine[T any](entity *T, initialStateFn StateFn[T]) *StateMachine[T] {
	return &StateMachine[T]{
		entity:  entity,
		stateFn: initialStateFn,
	}
}

// Dispatch sets stateFn as the current state, runs it once, and
// transitions to whatever it returns. Passing nil clears the state.
func (sm *StateMachine[T]) Dispatch(stateFn StateFn[T]) {
	sm.mutex.Lock()
	sm.stateFn = stateFn
	sm.mutex.Unlock()

	if stateFn == nil {
		return
	}

	nextStateFn := stateFn(sm.entity)

	sm.mutex.Lock()
	sm.stateFn = nextStateFn
	sm.mutex.Unlock()
}

// GetCurrentState returns the current state function.
func (sm *StateMachine[T]) GetCurrentState() StateFn[T] {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.stateFn
}

// SetState sets the state function without running it. Entry actions are
// skipped, so this is only for tests and for restoring saved state.
func (sm *StateMachine[T]) SetState(stateFn StateFn[T]) {
	sm.mutex.Lock()
	sm.stateFn = stateFn
	sm.mutex.Unlock()
}

// Same reports whether a and b are the same state. Func values are not
// comparable in Go, so the pointers are compared instead.
func Same[T any](a, b StateFn[T]) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}
