package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"faramita/internal/world"
)

// Settings keys.
const (
	keyWorldMeta        = "world_meta"
	keyActiveCharacters = "active_characters"
)

func (s *Store) getSetting(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get setting %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) putSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, string(raw)); err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

// WorldMeta returns the stored world identity, if any.
func (s *Store) WorldMeta(ctx context.Context) (world.WorldMeta, bool, error) {
	var meta world.WorldMeta
	ok, err := s.getSetting(ctx, keyWorldMeta, &meta)
	return meta, ok, err
}

// SetWorldMeta stores the world identity.
func (s *Store) SetWorldMeta(ctx context.Context, meta world.WorldMeta) error {
	return s.putSetting(ctx, keyWorldMeta, meta)
}

// ActiveCharacterIDs returns the persisted active-character-id set.
func (s *Store) ActiveCharacterIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.getSetting(ctx, keyActiveCharacters, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetActiveCharacterIDs replaces the active-character-id set.
func (s *Store) SetActiveCharacterIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return s.putSetting(ctx, keyActiveCharacters, ids)
}

// UpdateActiveCharacters applies additions then removals to the active
// set and writes it through. Duplicate adds are collapsed; insertion
// order of survivors is preserved.
func (s *Store) UpdateActiveCharacters(ctx context.Context, add, remove []string) ([]string, error) {
	current, err := s.ActiveCharacterIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(current)+len(add))
	merged := make([]string, 0, len(current)+len(add))
	for _, id := range append(append([]string{}, current...), add...) {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}

	removing := make(map[string]bool, len(remove))
	for _, id := range remove {
		removing[id] = true
	}
	final := merged[:0]
	for _, id := range merged {
		if !removing[id] {
			final = append(final, id)
		}
	}

	if err := s.SetActiveCharacterIDs(ctx, final); err != nil {
		return nil, err
	}
	return final, nil
}
