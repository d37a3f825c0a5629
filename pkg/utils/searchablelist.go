package utils

import (
	"fmt"
	"slices"
)

// IndexPolicy controls how an index treats items whose key is nil.
type IndexPolicy int

const (
	// RejectNil makes inserting an item with a nil key an error.
	RejectNil IndexPolicy = iota
	// IgnoreNil leaves items with nil keys out of the index.
	IgnoreNil
	// AllowNil indexes nil like any other key.
	AllowNil
)

// IndexSpec describes one unique index of a SearchableList.
type IndexSpec[T any] struct {
	Name   string
	Key    func(T) any
	Policy IndexPolicy
}

type searchIndex[T any] struct {
	spec IndexSpec[T]
	data map[any]T
}

// keyFor returns the item's key and whether it should be indexed.
func (ix *searchIndex[T]) keyFor(item T) (any, bool, error) {
	key := ix.spec.Key(item)
	if key == nil {
		switch ix.spec.Policy {
		case RejectNil:
			return nil, false, fmt.Errorf("nil values not allowed for index %s", ix.spec.Name)
		case IgnoreNil:
			return nil, false, nil
		}
	}
	return key, true, nil
}

// SearchableList is an insertion-ordered list with named unique indexes.
// Inserts fail atomically when any index would collide with an entry other
// than the one being replaced; nothing is modified on failure.
type SearchableList[T comparable] struct {
	items   []T
	indices []*searchIndex[T]
	byName  map[string]*searchIndex[T]
}

// NewSearchableList creates an empty list with the given indexes.
func NewSearchableList[T comparable](specs ...IndexSpec[T]) *SearchableList[T] {
	l := &SearchableList[T]{
		byName: make(map[string]*searchIndex[T], len(specs)),
	}
	for _, spec := range specs {
		ix := &searchIndex[T]{spec: spec, data: make(map[any]T)}
		l.indices = append(l.indices, ix)
		l.byName[spec.Name] = ix
	}
	return l
}

func (l *SearchableList[T]) index(name string) *searchIndex[T] {
	ix, ok := l.byName[name]
	if !ok {
		panic(fmt.Sprintf("no index called %s", name))
	}
	return ix
}

// checkAdd verifies that adding item would not collide on any index. The
// replaced pointer, when non-nil, names an element whose index entries the
// item is allowed to take over.
func (l *SearchableList[T]) checkAdd(item T, replaced *T) error {
	for _, ix := range l.indices {
		key, use, err := ix.keyFor(item)
		if err != nil {
			return err
		}
		if !use {
			continue
		}
		if existing, ok := ix.data[key]; ok {
			if replaced == nil || existing != *replaced {
				return fmt.Errorf("item with same %s already in list", ix.spec.Name)
			}
		}
	}
	return nil
}

func (l *SearchableList[T]) addToIndexes(item T) {
	for _, ix := range l.indices {
		if key, use, _ := ix.keyFor(item); use {
			ix.data[key] = item
		}
	}
}

func (l *SearchableList[T]) dropFromIndexes(item T) {
	for _, ix := range l.indices {
		if key, use, _ := ix.keyFor(item); use {
			delete(ix.data, key)
		}
	}
}

// Append adds item to the end of the list.
func (l *SearchableList[T]) Append(item T) error {
	return l.Insert(len(l.items), item)
}

// Insert adds item at the given position.
func (l *SearchableList[T]) Insert(pos int, item T) error {
	if err := l.checkAdd(item, nil); err != nil {
		return err
	}
	l.items = slices.Insert(l.items, pos, item)
	l.addToIndexes(item)
	return nil
}

// ReplaceAt swaps out the element at pos for item.
func (l *SearchableList[T]) ReplaceAt(pos int, item T) error {
	old := l.items[pos]
	if err := l.checkAdd(item, &old); err != nil {
		return err
	}
	l.dropFromIndexes(old)
	l.items[pos] = item
	l.addToIndexes(item)
	return nil
}

// Remove deletes the first element equal to item and reports whether one
// was found.
func (l *SearchableList[T]) Remove(item T) bool {
	pos := slices.Index(l.items, item)
	if pos < 0 {
		return false
	}
	l.RemoveAt(pos)
	return true
}

// RemoveAt deletes and returns the element at pos.
func (l *SearchableList[T]) RemoveAt(pos int) T {
	item := l.items[pos]
	l.dropFromIndexes(item)
	l.items = slices.Delete(l.items, pos, pos+1)
	return item
}

// RemoveBy deletes and returns the element whose index value equals key.
func (l *SearchableList[T]) RemoveBy(index string, key any) (T, bool) {
	item, ok := l.FindBy(index, key)
	if !ok {
		var zero T
		return zero, false
	}
	l.Remove(item)
	return item, true
}

// FindBy returns the element whose index value equals key.
func (l *SearchableList[T]) FindBy(index string, key any) (T, bool) {
	item, ok := l.index(index).data[key]
	return item, ok
}

// Exists reports whether an element with the given index value exists.
func (l *SearchableList[T]) Exists(index string, key any) bool {
	_, ok := l.index(index).data[key]
	return ok
}

// IndexOf returns the position of item, or -1 if it is not in the list.
func (l *SearchableList[T]) IndexOf(item T) int {
	return slices.Index(l.items, item)
}

// Contains reports whether item is in the list.
func (l *SearchableList[T]) Contains(item T) bool {
	return l.IndexOf(item) >= 0
}

// At returns the element at pos.
func (l *SearchableList[T]) At(pos int) T {
	return l.items[pos]
}

// Len returns the number of elements.
func (l *SearchableList[T]) Len() int {
	return len(l.items)
}

// All returns the elements in insertion order. The returned slice is a
// copy and safe to retain across mutations.
func (l *SearchableList[T]) All() []T {
	return slices.Clone(l.items)
}

// Clear removes all elements.
func (l *SearchableList[T]) Clear() {
	for _, ix := range l.indices {
		clear(ix.data)
	}
	l.items = l.items[:0]
}
