package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"faramita/internal/world"
)

// ErrMissingID rejects card writes without an id.
var ErrMissingID = errors.New("card document has no id")

// PutCard inserts or replaces a card document.
func (s *Store) PutCard(ctx context.Context, doc world.Doc) error {
	id := world.DocID(doc)
	if id == "" {
		return ErrMissingID
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode card %q: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cards (id, type, doc) VALUES (?, ?, ?)",
		id, string(world.DocType(doc)), string(raw))
	if err != nil {
		return fmt.Errorf("put card %q: %w", id, err)
	}
	return nil
}

// BulkPutCards writes documents sequentially; the first failure stops
// the batch.
func (s *Store) BulkPutCards(ctx context.Context, docs []world.Doc) error {
	for _, doc := range docs {
		if err := s.PutCard(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// GetCard fetches one card document by id.
func (s *Store) GetCard(ctx context.Context, id string) (world.Doc, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM cards WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get card %q: %w", id, err)
	}

	var doc world.Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode card %q: %w", id, err)
	}
	return doc, true, nil
}

// BulkGetCards resolves ids to documents, silently skipping ids that
// do not exist (the model routinely references stale ids).
func (s *Store) BulkGetCards(ctx context.Context, ids []string) ([]world.Doc, error) {
	docs := make([]world.Doc, 0, len(ids))
	for _, id := range ids {
		doc, ok, err := s.GetCard(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// AllCards scans the full card table.
func (s *Store) AllCards(ctx context.Context) ([]world.Doc, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM cards ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("scan cards: %w", err)
	}
	defer rows.Close()

	var docs []world.Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		var doc world.Doc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode card row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteCard removes a card by id. Deleting a missing id is a no-op.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete card %q: %w", id, err)
	}
	return nil
}

// CountCards reports the number of stored cards.
func (s *Store) CountCards(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}
