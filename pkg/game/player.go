package game

import (
	"slices"

	"github.com/google/uuid"
)

// LeaveReason tells the remaining players why someone left a game.
type LeaveReason string

const (
	LeaveVoluntary  LeaveReason = "leave"
	LeaveHostKick   LeaveReason = "host_kick"
	LeaveDisconnect LeaveReason = "disconnect"
	LeaveIdle       LeaveReason = "idle"
)

// Player is a user's presence in one game: their hand, score and idle
// strikes, plus the updates queued for them this turn.
type Player struct {
	User *User

	hand       []WhiteCard
	score      int
	idleRounds int

	pendingUpdates UpdateKind
	pendingEvents  []map[string]any
}

// NewPlayer creates a player for the given user with an empty hand.
func NewPlayer(user *User) *Player {
	return &Player{User: user}
}

// ID returns the owning user's id.
func (p *Player) ID() uuid.UUID {
	return p.User.ID
}

// EventJSON returns the identity fields used to reference the player in
// events.
func (p *Player) EventJSON() map[string]any {
	return map[string]any{
		"id":   p.ID().String(),
		"name": p.User.Name,
	}
}

// playCard removes the card occupying the given card's slot from the
// hand.
func (p *Player) playCard(card WhiteCard) error {
	for i, held := range p.hand {
		if held.SlotID == card.SlotID {
			p.hand = slices.Delete(p.hand, i, i+1)
			return nil
		}
	}
	return NewStateError("card_not_in_hand", "you do not have the card")
}
