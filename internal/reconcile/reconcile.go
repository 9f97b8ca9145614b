// Package reconcile applies model-proposed world updates to the card
// store: creations with collision-safe ids, and deep-merge mutations.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"faramita/internal/protocol"
	"faramita/internal/store"
	"faramita/internal/world"
)

// maxSuffixAttempts bounds the id-collision suffix loop. Past this we
// give up on readable ids and mint a fresh uuid instead.
const maxSuffixAttempts = 100

// Reconciler applies update batches sequentially. A failed update is
// logged and skipped; it never aborts the batch.
type Reconciler struct {
	store *store.Store
	log   *zap.Logger
	newID func() string
}

func New(st *store.Store, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: st, log: log, newID: uuid.NewString}
}

// Apply processes the batch in order and returns one human-readable
// notification per update that landed.
func (r *Reconciler) Apply(ctx context.Context, updates []protocol.WorldUpdate) []string {
	var notifications []string
	for _, u := range updates {
		var (
			note string
			err  error
		)
		switch u.Action {
		case protocol.ActionCreate:
			note, err = r.create(ctx, u)
		case protocol.ActionUpdate:
			note, err = r.update(ctx, u)
		default:
			err = fmt.Errorf("unknown action %q", u.Action)
		}
		if err != nil {
			r.log.Warn("world update skipped",
				zap.String("action", u.Action),
				zap.String("type", u.Type),
				zap.Error(err))
			continue
		}
		if note != "" {
			notifications = append(notifications, note)
		}
	}
	return notifications
}

func (r *Reconciler) create(ctx context.Context, u protocol.WorldUpdate) (string, error) {
	card := make(world.Doc, len(u.Data)+2)
	for k, v := range u.Data {
		card[k] = v
	}
	card["type"] = u.Type

	id := world.DocID(card)
	if id == "" {
		id = r.newID()
	}
	id, err := r.resolveCollision(ctx, id)
	if err != nil {
		return "", err
	}
	card["id"] = id

	if err := r.store.PutCard(ctx, card); err != nil {
		return "", err
	}

	// Newly created characters join the scene immediately.
	if u.Type == string(world.TypeCharacter) {
		if _, err := r.store.UpdateActiveCharacters(ctx, []string{id}, nil); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Created new %s: %s", u.Type, world.DocName(card)), nil
}

func (r *Reconciler) update(ctx context.Context, u protocol.WorldUpdate) (string, error) {
	if u.TargetID == "" {
		return "", nil
	}
	existing, ok, err := r.store.GetCard(ctx, u.TargetID)
	if err != nil {
		return "", err
	}
	if !ok {
		// Unresolved target is a silent no-op.
		return "", nil
	}

	data := normalizeListFields(u.Data)
	merged, ok := Merge(existing, data).(map[string]any)
	if !ok {
		return "", fmt.Errorf("merge produced non-document for %s", u.TargetID)
	}
	// The merge must never move or retype the card.
	merged["id"] = u.TargetID
	merged["type"] = existing["type"]

	if err := r.store.PutCard(ctx, merged); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s: %s", u.Type, world.DocName(merged)), nil
}

// resolveCollision returns id unchanged when free, otherwise the first
// free "_N" suffixed variant, otherwise a fresh uuid.
func (r *Reconciler) resolveCollision(ctx context.Context, id string) (string, error) {
	_, taken, err := r.store.GetCard(ctx, id)
	if err != nil {
		return "", err
	}
	if !taken {
		return id, nil
	}
	for i := 1; i <= maxSuffixAttempts; i++ {
		candidate := fmt.Sprintf("%s_%d", id, i)
		_, taken, err := r.store.GetCard(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	fresh := r.newID()
	r.log.Warn("id collision suffixes exhausted, minting fresh id",
		zap.String("base", id), zap.String("id", fresh))
	return fresh, nil
}

// normalizeListFields copies data, coercing bare-string status and
// background values to single-element lists so they merge as sets
// instead of being spread character by character.
func normalizeListFields(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, field := range []string{"status", "background"} {
		if s, ok := out[field].(string); ok {
			out[field] = []any{s}
		}
	}
	return out
}
