package game

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func testPack(name string, blacks, whites int) *CardPack {
	pack := &CardPack{ID: uuid.New(), Name: name}
	for i := 0; i < blacks; i++ {
		pack.BlackCards = append(pack.BlackCards, BlackCard{
			Text:      fmt.Sprintf("%s black %d?", name, i),
			PickCount: 1,
			PackName:  name,
		})
	}
	for i := 0; i < whites; i++ {
		pack.WhiteCards = append(pack.WhiteCards, WhiteCard{
			SlotID:   uuid.New(),
			Text:     fmt.Sprintf("%s white %d", name, i),
			PackName: name,
		})
	}
	return pack
}

func TestBuildWhiteDeck(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	deck := BuildWhiteDeck(rng, []*CardPack{testPack("test", 0, 20)}, 3)

	if deck.TotalCards() != 23 {
		t.Errorf("Expected 23 cards, got %d", deck.TotalCards())
	}

	// All cards should come out exactly once
	seen := make(map[uuid.UUID]bool)
	blanks := 0
	for {
		card, ok := deck.Draw()
		if !ok {
			break
		}
		if seen[card.SlotID] {
			t.Errorf("Duplicate card drawn: %v", card.SlotID)
		}
		seen[card.SlotID] = true
		if card.Blank {
			blanks++
			if card.Text != "" {
				t.Errorf("Expected unwritten blank, got text %q", card.Text)
			}
		}
	}
	if len(seen) != 23 {
		t.Errorf("Expected 23 distinct cards drawn, got %d", len(seen))
	}
	if blanks != 3 {
		t.Errorf("Expected 3 blank cards, got %d", blanks)
	}
}

func TestBuildDeckDeduplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	// Two packs sharing card texts should only contribute one copy
	pack1 := testPack("same", 5, 10)
	pack2 := testPack("same", 5, 10)
	pack2.ID = uuid.New()

	black := BuildBlackDeck(rng, []*CardPack{pack1, pack2})
	if black.TotalCards() != 5 {
		t.Errorf("Expected 5 black cards after dedupe, got %d", black.TotalCards())
	}

	white := BuildWhiteDeck(rng, []*CardPack{pack1, pack2}, 0)
	if white.TotalCards() != 10 {
		t.Errorf("Expected 10 white cards after dedupe, got %d", white.TotalCards())
	}
}

func TestDeckReshufflesDiscards(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	deck := BuildWhiteDeck(rng, []*CardPack{testPack("test", 0, 5)}, 0)

	// Drain the deck, discarding everything drawn
	for i := 0; i < 5; i++ {
		card, ok := deck.Draw()
		if !ok {
			t.Fatalf("Expected card on draw %d", i)
		}
		deck.Discard(card)
	}
	if deck.TotalCards() != 5 {
		t.Errorf("Expected 5 cards after discards, got %d", deck.TotalCards())
	}

	// Drawing again should cycle the discards back in
	if _, ok := deck.Draw(); !ok {
		t.Error("Expected reshuffle to make discards drawable")
	}
}

func TestDeckExhausted(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	deck := BuildBlackDeck(rng, []*CardPack{testPack("test", 2, 0)})

	deck.Draw()
	deck.Draw()
	if _, ok := deck.Draw(); ok {
		t.Error("Expected draw from exhausted deck to fail")
	}
}

func TestDeckRecyclesBlanks(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	deck := BuildWhiteDeck(rng, nil, 1)

	blank, ok := deck.Draw()
	if !ok {
		t.Fatal("Expected to draw the blank")
	}
	written, err := blank.WriteBlank("player text")
	if err != nil {
		t.Fatalf("WriteBlank failed: %v", err)
	}
	deck.Discard(written)

	// The discarded blank should come back unwritten under a new slot,
	// so the written text never resurfaces
	recycled, ok := deck.Draw()
	if !ok {
		t.Fatal("Expected to draw the recycled blank")
	}
	if !recycled.Blank {
		t.Error("Expected recycled card to still be a blank")
	}
	if recycled.Text != "" {
		t.Errorf("Expected recycled blank to be unwritten, got %q", recycled.Text)
	}
	if recycled.SlotID == blank.SlotID {
		t.Error("Expected recycled blank to get a fresh slot id")
	}
}

func TestDrawDiscardKeepsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	deck := BuildBlackDeck(rng, []*CardPack{testPack("test", 8, 0)})

	for i := 0; i < 20; i++ {
		if _, ok := deck.DrawDiscard(); !ok {
			t.Fatalf("Expected DrawDiscard %d to succeed", i)
		}
		if deck.TotalCards() != 8 {
			t.Fatalf("Expected total to stay 8, got %d", deck.TotalCards())
		}
	}
}

func TestWriteBlankOnNormalCard(t *testing.T) {
	card := WhiteCard{SlotID: uuid.New(), Text: "printed"}
	if _, err := card.WriteBlank("attempt"); err == nil {
		t.Error("Expected writing on a non-blank card to fail")
	}
}
