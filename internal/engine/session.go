package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"faramita/internal/archive"
	"faramita/internal/world"
)

// ErrNoWorldMeta reports an archive save before any world was
// imported.
var ErrNoWorldMeta = errors.New("world meta not found")

// SaveArchive snapshots the session into the rotating save directory
// and returns the filename written.
func (e *Engine) SaveArchive(ctx context.Context) (string, error) {
	meta, ok, err := e.store.WorldMeta(ctx)
	if err != nil {
		return "", err
	}
	if !ok || meta.UUID == "" {
		return "", ErrNoWorldMeta
	}

	activeIDs, err := e.store.ActiveCharacterIDs(ctx)
	if err != nil {
		return "", err
	}
	history, err := e.store.History(ctx)
	if err != nil {
		return "", err
	}

	return e.archives.Save(&archive.Archive{
		WorldMeta:         meta,
		Timestamp:         time.Now().UnixMilli(),
		ActiveInformation: activeIDs,
		History:           history,
	}, meta.UUID, meta.Name)
}

// LoadArchive replaces the chronicle and active set with an archived
// session. World cards are untouched; archives only capture session
// state.
func (e *Engine) LoadArchive(ctx context.Context, filename string) error {
	a, err := e.archives.Load(filename)
	if err != nil {
		return err
	}

	if err := e.store.ClearChronicle(ctx); err != nil {
		return err
	}
	if err := e.store.BulkAddEntries(ctx, a.History); err != nil {
		return err
	}
	if err := e.store.SetActiveCharacterIDs(ctx, a.ActiveInformation); err != nil {
		return err
	}
	e.setPending(nil)
	return nil
}

// ListArchives lists the current world's saves, newest first.
func (e *Engine) ListArchives(ctx context.Context) ([]archive.SaveInfo, error) {
	meta, ok, err := e.store.WorldMeta(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoWorldMeta
	}
	return e.archives.List(meta.UUID)
}

// ImportTemplate seeds an empty store from a world template file.
// A store that already holds cards is left alone.
func (e *Engine) ImportTemplate(ctx context.Context, path string) error {
	count, err := e.store.CountCards(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	tpl, err := world.ParseTemplate(data)
	if err != nil {
		return err
	}

	if err := e.store.BulkPutCards(ctx, tpl.Cards()); err != nil {
		return err
	}
	return e.store.SetWorldMeta(ctx, tpl.WorldMeta)
}

// SyncTemplate reconciles the store with an edited template file:
// template cards missing from the store are added, and stored cards
// whose serialization differs from the template are overwritten with
// the template version. Session-only state survives. Returns the
// added and updated counts.
func (e *Engine) SyncTemplate(ctx context.Context, path string) (added, updated int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read template: %w", err)
	}
	tpl, err := world.ParseTemplate(data)
	if err != nil {
		return 0, 0, err
	}

	var toPut []world.Doc
	for _, card := range tpl.Cards() {
		id := world.DocID(card)
		if id == "" {
			continue
		}
		existing, ok, err := e.store.GetCard(ctx, id)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			toPut = append(toPut, card)
			added++
			continue
		}
		if !sameDoc(card, existing) {
			toPut = append(toPut, card)
			updated++
		}
	}

	if len(toPut) > 0 {
		if err := e.store.BulkPutCards(ctx, toPut); err != nil {
			return 0, 0, err
		}
	}
	return added, updated, nil
}

// ExportTemplate writes the live world back out as a template file,
// the inverse of ImportTemplate. Session state (chronicle, active set)
// is not part of the template and stays behind.
func (e *Engine) ExportTemplate(ctx context.Context, path string) error {
	meta, ok, err := e.store.WorldMeta(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoWorldMeta
	}
	docs, err := e.store.AllCards(ctx)
	if err != nil {
		return err
	}

	tpl := world.ExportTemplate(meta, docs)
	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

// sameDoc compares documents by canonical JSON; encoding/json sorts
// map keys, so equal content always serializes identically.
func sameDoc(a, b world.Doc) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

// Reset wipes the session: all cards, history, and settings.
func (e *Engine) Reset(ctx context.Context) error {
	e.setPending(nil)
	return e.store.Reset(ctx)
}
