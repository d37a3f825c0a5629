// Package catalog stores card packs in SQLite. The game server reads
// the whole catalog at boot; at runtime packs are immutable.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

// Catalog is the card pack database.
type Catalog struct {
	*sql.DB
}

// Open opens the catalog database at path, creating the schema if
// needed.
func Open(path string) (*Catalog, error) {
	// foreign_keys makes the pack deletes cascade to the cards
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS card_packs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			watermark TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS white_cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pack_id INTEGER NOT NULL REFERENCES card_packs(id) ON DELETE CASCADE,
			uuid TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS black_cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pack_id INTEGER NOT NULL REFERENCES card_packs(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			pick_count INTEGER NOT NULL,
			draw_count INTEGER NOT NULL
		)
	`)
	return err
}

// LoadPacks reads every pack in the catalog, in import order. White
// card slot ids come from the database, so the same physical card keeps
// its identity across server restarts.
func (c *Catalog) LoadPacks() ([]*game.CardPack, error) {
	rows, err := c.Query(`SELECT id, uuid, name FROM card_packs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read card packs: %w", err)
	}
	defer rows.Close()

	type packRow struct {
		rowID int64
		id    uuid.UUID
		name  string
	}
	var packRows []packRow
	for rows.Next() {
		var row packRow
		var id string
		if err := rows.Scan(&row.rowID, &id, &row.name); err != nil {
			return nil, fmt.Errorf("failed to read card packs: %w", err)
		}
		if row.id, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid uuid for pack %q: %w", row.name, err)
		}
		packRows = append(packRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card packs: %w", err)
	}

	packs := make([]*game.CardPack, 0, len(packRows))
	for _, row := range packRows {
		pack := &game.CardPack{ID: row.id, Name: row.name}
		if pack.WhiteCards, err = c.loadWhiteCards(row.rowID, row.name); err != nil {
			return nil, err
		}
		if pack.BlackCards, err = c.loadBlackCards(row.rowID, row.name); err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (c *Catalog) loadWhiteCards(packRowID int64, packName string) ([]game.WhiteCard, error) {
	rows, err := c.Query(`SELECT uuid, text FROM white_cards WHERE pack_id = ? ORDER BY id`, packRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to read white cards of %q: %w", packName, err)
	}
	defer rows.Close()

	var cards []game.WhiteCard
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("failed to read white cards of %q: %w", packName, err)
		}
		slotID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid for white card in %q: %w", packName, err)
		}
		cards = append(cards, game.WhiteCard{SlotID: slotID, Text: text, PackName: packName})
	}
	return cards, rows.Err()
}

func (c *Catalog) loadBlackCards(packRowID int64, packName string) ([]game.BlackCard, error) {
	rows, err := c.Query(`SELECT text, pick_count, draw_count FROM black_cards WHERE pack_id = ? ORDER BY id`, packRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to read black cards of %q: %w", packName, err)
	}
	defer rows.Close()

	var cards []game.BlackCard
	for rows.Next() {
		var card game.BlackCard
		if err := rows.Scan(&card.Text, &card.PickCount, &card.DrawCount); err != nil {
			return nil, fmt.Errorf("failed to read black cards of %q: %w", packName, err)
		}
		card.PackName = packName
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// packDocument is one pack in an import file.
type packDocument struct {
	Name       string `json:"name"`
	Watermark  string `json:"watermark"`
	BlackCards []struct {
		Text string `json:"text"`
		Pick int    `json:"pick"`
		Draw int    `json:"draw"`
	} `json:"black_cards"`
	WhiteCards []string `json:"white_cards"`
}

// ImportJSON seeds the catalog from a JSON document of the form
//
//	[{"name": ..., "watermark": ...,
//	  "black_cards": [{"text": ..., "pick": 1, "draw": 0}, ...],
//	  "white_cards": ["text", ...]}, ...]
//
// Cards are minted fresh uuids. A pack with the same name as an
// existing one replaces it, so imports can be rerun. Returns the number
// of packs imported.
func (c *Catalog) ImportJSON(r io.Reader) (int, error) {
	var docs []packDocument
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return 0, fmt.Errorf("failed to decode pack file: %w", err)
	}
	for _, doc := range docs {
		if err := doc.validate(); err != nil {
			return 0, err
		}
	}

	tx, err := c.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if _, err := tx.Exec(`DELETE FROM card_packs WHERE name = ?`, doc.Name); err != nil {
			return 0, fmt.Errorf("failed to replace pack %q: %w", doc.Name, err)
		}
		res, err := tx.Exec(`INSERT INTO card_packs (uuid, name, watermark) VALUES (?, ?, ?)`,
			uuid.New().String(), doc.Name, doc.Watermark)
		if err != nil {
			return 0, fmt.Errorf("failed to import pack %q: %w", doc.Name, err)
		}
		packRowID, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		for _, text := range doc.WhiteCards {
			_, err := tx.Exec(`INSERT INTO white_cards (pack_id, uuid, text) VALUES (?, ?, ?)`,
				packRowID, uuid.New().String(), text)
			if err != nil {
				return 0, fmt.Errorf("failed to import pack %q: %w", doc.Name, err)
			}
		}
		for _, card := range doc.BlackCards {
			_, err := tx.Exec(`INSERT INTO black_cards (pack_id, text, pick_count, draw_count) VALUES (?, ?, ?, ?)`,
				packRowID, card.Text, card.Pick, card.Draw)
			if err != nil {
				return 0, fmt.Errorf("failed to import pack %q: %w", doc.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (doc *packDocument) validate() error {
	if doc.Name == "" {
		return fmt.Errorf("pack without a name")
	}
	for i, card := range doc.BlackCards {
		if card.Text == "" {
			return fmt.Errorf("pack %q: black card %d has no text", doc.Name, i)
		}
		if card.Pick < 1 {
			return fmt.Errorf("pack %q: black card %d: pick must be at least 1", doc.Name, i)
		}
		if card.Draw < 0 {
			return fmt.Errorf("pack %q: black card %d: draw can't be negative", doc.Name, i)
		}
	}
	for i, text := range doc.WhiteCards {
		if text == "" {
			return fmt.Errorf("pack %q: white card %d has no text", doc.Name, i)
		}
	}
	return nil
}
