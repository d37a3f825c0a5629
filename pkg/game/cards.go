package game

import (
	"github.com/google/uuid"
)

// BlackCard is a question or fill-in-the-blank card. PickCount tells how
// many white cards each player plays against it and DrawCount how many
// extra white cards they draw first.
type BlackCard struct {
	Text      string
	PickCount int
	DrawCount int
	PackName  string
}

// JSON returns the wire form of the card.
func (c BlackCard) JSON() map[string]any {
	var packName any
	if c.PackName != "" {
		packName = c.PackName
	}
	return map[string]any{
		"text":       c.Text,
		"pick_count": c.PickCount,
		"draw_count": c.DrawCount,
		"pack_name":  packName,
	}
}

// WhiteCard is an answer card. SlotID does not identify the card's text;
// it identifies a physical card. The difference matters for blank cards,
// which can be written onto while keeping the same SlotID. For non-blank
// cards SlotID is unique inside a deck.
type WhiteCard struct {
	SlotID   uuid.UUID
	Text     string
	Blank    bool
	PackName string
}

// NewBlankCard returns an unwritten blank card with a fresh SlotID.
func NewBlankCard() WhiteCard {
	return WhiteCard{SlotID: uuid.New(), Blank: true}
}

// WriteBlank returns a copy of the card with the given text written on
// it. The SlotID stays the same so the card can be tracked from hand to
// table.
func (c WhiteCard) WriteBlank(text string) (WhiteCard, error) {
	if !c.Blank {
		return WhiteCard{}, NewStateError("invalid_white_cards", "card is not a blank")
	}
	return WhiteCard{SlotID: c.SlotID, Text: text, Blank: true}, nil
}

// JSON returns the wire form of the card. The text of an unwritten blank
// is null.
func (c WhiteCard) JSON() map[string]any {
	var text any
	if !c.Blank || c.Text != "" {
		text = c.Text
	}
	var packName any
	if c.PackName != "" {
		packName = c.PackName
	}
	return map[string]any{
		"id":        c.SlotID.String(),
		"text":      text,
		"blank":     c.Blank,
		"pack_name": packName,
	}
}

// CardPack is an immutable named collection of cards that games can mix
// into their decks.
type CardPack struct {
	ID         uuid.UUID
	Name       string
	BlackCards []BlackCard
	WhiteCards []WhiteCard
}

// JSON returns the wire form of the pack: identity plus card counts,
// shown to clients in pack selection.
func (p *CardPack) JSON() map[string]any {
	return map[string]any{
		"id":          p.ID.String(),
		"name":        p.Name,
		"black_cards": len(p.BlackCards),
		"white_cards": len(p.WhiteCards),
	}
}
