package game

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"slices"

	"github.com/google/uuid"
)

// Round is one black card's worth of play: the czar who drew it, the
// answers played against it, and eventually a winner. Played cards are
// keyed by the owning user's id.
type Round struct {
	ID         uuid.UUID
	CardCzar   *Player
	BlackCard  BlackCard
	WhiteCards map[uuid.UUID][]WhiteCard
	Winner     *Player

	orderKey []byte
}

func newRound(czar *Player, black BlackCard) *Round {
	key := make([]byte, 16)
	rand.Read(key)
	return &Round{
		ID:         uuid.New(),
		CardCzar:   czar,
		BlackCard:  black,
		WhiteCards: make(map[uuid.UUID][]WhiteCard),
		orderKey:   key,
	}
}

// NeedsToPlay reports whether player still needs to play white cards for
// the round to proceed. The card czar, players who already played and
// players who joined mid-round with empty hands do not.
func (r *Round) NeedsToPlay(player *Player) bool {
	if player == r.CardCzar || len(player.hand) == 0 {
		return false
	}
	_, played := r.WhiteCards[player.ID()]
	return !played
}

// RandomizedPlays returns the played card sets in an order that is
// random but stays the same for the whole round, so plays cannot be
// traced back to players by position.
func (r *Round) RandomizedPlays() [][]WhiteCard {
	ids := make([]uuid.UUID, 0, len(r.WhiteCards))
	for id := range r.WhiteCards {
		ids = append(ids, id)
	}
	// md5 over the round's order key acts as a keyed pseudorandom
	// function for the display order.
	keys := make(map[uuid.UUID][]byte, len(ids))
	for _, id := range ids {
		sum := md5.Sum(append(slices.Clone(r.orderKey), id[:]...))
		keys[id] = sum[:]
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(keys[a], keys[b])
	})
	plays := make([][]WhiteCard, 0, len(ids))
	for _, id := range ids {
		plays = append(plays, r.WhiteCards[id])
	}
	return plays
}
