package store

import (
	"context"
	"fmt"
)

// Chronicle entry roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChronicleEntry is one transcript line. Turn is assigned by the
// caller as len(history)+1 at append time; ordering is append order,
// not a unique key. Assistant entries store the serialized response
// envelope as Content.
type ChronicleEntry struct {
	ID        int64  `json:"id,omitempty"`
	Turn      int    `json:"turn"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// AppendEntry persists an entry and fills in its row id.
func (s *Store) AppendEntry(ctx context.Context, e *ChronicleEntry) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chronicle (turn, role, content, timestamp) VALUES (?, ?, ?, ?)",
		e.Turn, string(e.Role), e.Content, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append chronicle entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append chronicle entry: %w", err)
	}
	e.ID = id
	return nil
}

// History returns all entries ordered by turn, then insertion order.
func (s *Store) History(ctx context.Context) ([]ChronicleEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, turn, role, content, timestamp FROM chronicle ORDER BY turn, id")
	if err != nil {
		return nil, fmt.Errorf("scan chronicle: %w", err)
	}
	defer rows.Close()

	var entries []ChronicleEntry
	for rows.Next() {
		var e ChronicleEntry
		var role string
		if err := rows.Scan(&e.ID, &e.Turn, &role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chronicle row: %w", err)
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateEntryContent rewrites one entry's content (roll outcomes are
// appended to the matching system entry).
func (s *Store) UpdateEntryContent(ctx context.Context, id int64, content string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chronicle SET content = ? WHERE id = ?", content, id); err != nil {
		return fmt.Errorf("update chronicle entry %d: %w", id, err)
	}
	return nil
}

// DeleteEntriesFrom removes every entry with turn >= target, one row
// at a time. A failure partway leaves a torn history; the caller
// surfaces it rather than retrying silently.
func (s *Store) DeleteEntriesFrom(ctx context.Context, turn int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chronicle WHERE turn >= ?", turn)
	if err != nil {
		return fmt.Errorf("rollback scan: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("rollback scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rollback scan: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM chronicle WHERE id = ?", id); err != nil {
			return fmt.Errorf("rollback delete entry %d: %w", id, err)
		}
	}
	return nil
}

// ClearChronicle drops all transcript entries (archive load).
func (s *Store) ClearChronicle(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chronicle"); err != nil {
		return fmt.Errorf("clear chronicle: %w", err)
	}
	return nil
}

// BulkAddEntries restores a transcript (archive load), preserving the
// stored turn numbers.
func (s *Store) BulkAddEntries(ctx context.Context, entries []ChronicleEntry) error {
	for i := range entries {
		e := entries[i]
		e.ID = 0
		if err := s.AppendEntry(ctx, &e); err != nil {
			return err
		}
	}
	return nil
}
