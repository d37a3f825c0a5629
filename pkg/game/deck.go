package game

import (
	"math/rand"
)

// Deck is a draw pile plus a discard pile. Drawing from an empty pile
// shuffles the discards back in first, so cards cycle for as long as the
// game needs them.
type Deck[C any] struct {
	draw      []C
	discarded []C
	rng       *rand.Rand
	recycle   func(C) C
}

// BuildBlackDeck builds a deck from the black cards of the given packs.
// Cards with identical text appearing in several packs are only included
// once.
func BuildBlackDeck(rng *rand.Rand, packs []*CardPack) *Deck[BlackCard] {
	d := &Deck[BlackCard]{rng: rng}
	seen := make(map[string]bool)
	for _, pack := range packs {
		for _, card := range pack.BlackCards {
			if !seen[card.Text] {
				d.discarded = append(d.discarded, card)
				seen[card.Text] = true
			}
		}
	}
	return d
}

// BuildWhiteDeck builds a deck from the white cards of the given packs
// plus the requested number of blank cards. Cards with identical text
// are only included once. Discarded blanks come back as fresh unwritten
// blanks so played text never resurfaces.
func BuildWhiteDeck(rng *rand.Rand, packs []*CardPack, blanks int) *Deck[WhiteCard] {
	d := &Deck[WhiteCard]{rng: rng}
	seen := make(map[string]bool)
	for _, pack := range packs {
		for _, card := range pack.WhiteCards {
			if !seen[card.Text] {
				d.discarded = append(d.discarded, card)
				seen[card.Text] = true
			}
		}
	}
	for i := 0; i < blanks; i++ {
		d.discarded = append(d.discarded, NewBlankCard())
	}
	d.recycle = func(card WhiteCard) WhiteCard {
		if card.Blank {
			return NewBlankCard()
		}
		return card
	}
	return d
}

// Draw removes and returns the top card. The second return is false when
// both piles are empty.
func (d *Deck[C]) Draw() (C, bool) {
	if len(d.draw) == 0 {
		d.reshuffle()
		if len(d.draw) == 0 {
			var zero C
			return zero, false
		}
	}
	card := d.draw[len(d.draw)-1]
	d.draw = d.draw[:len(d.draw)-1]
	return card, true
}

// DrawDiscard draws a card and immediately places it on the discard
// pile, used for cards that stay on the table rather than in a hand.
func (d *Deck[C]) DrawDiscard() (C, bool) {
	card, ok := d.Draw()
	if ok {
		d.Discard(card)
	}
	return card, ok
}

// Discard adds the given card to the discard pile.
func (d *Deck[C]) Discard(card C) {
	if d.recycle != nil {
		card = d.recycle(card)
	}
	d.discarded = append(d.discarded, card)
}

// DiscardAll adds all of the given cards to the discard pile.
func (d *Deck[C]) DiscardAll(cards []C) {
	for _, card := range cards {
		d.Discard(card)
	}
}

// TotalCards returns the number of cards across both piles.
func (d *Deck[C]) TotalCards() int {
	return len(d.draw) + len(d.discarded)
}

func (d *Deck[C]) reshuffle() {
	d.draw = append(d.draw, d.discarded...)
	d.discarded = d.discarded[:0]
	d.rng.Shuffle(len(d.draw), func(i, j int) {
		d.draw[i], d.draw[j] = d.draw[j], d.draw[i]
	})
}
