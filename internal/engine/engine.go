// Package engine orchestrates a narrative turn: discovery, streaming
// narration, envelope parsing, world reconciliation, the dice
// interaction gate, and archive auto-saves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"faramita/internal/archive"
	"faramita/internal/client"
	"faramita/internal/config"
	"faramita/internal/dice"
	"faramita/internal/prompt"
	"faramita/internal/protocol"
	"faramita/internal/reconcile"
	"faramita/internal/store"
	"faramita/internal/world"
)

// ErrBusy reports that a turn is already in flight; callers retry once
// the current turn settles.
var ErrBusy = errors.New("a narrative turn is already in progress")

// ErrNoPendingInteraction reports a roll resolution with nothing
// awaiting one.
var ErrNoPendingInteraction = errors.New("no interaction awaiting a roll")

// diceEntryPrefix marks system entries that record a pending dice
// check; resolution appends the outcome to the most recent one.
const diceEntryPrefix = "[SYSTEM] [DICE]"

// ChatClient is the slice of the provider client the engine drives.
type ChatClient interface {
	Chat(ctx context.Context, prompt string, onToken client.TokenFunc, onRoll client.RollFunc) (string, error)
}

// Sinks receive turn progress. Any of them may be nil.
type Sinks struct {
	OnToken        func(delta string)
	OnRoll         func(result dice.Result)
	OnNotification func(note string)
}

// Engine runs at most one turn at a time over a single world store.
type Engine struct {
	store    *store.Store
	chat     ChatClient
	archives *archive.Manager
	rec      *reconcile.Reconciler
	cfg      config.Config
	log      *zap.Logger

	sem      *semaphore.Weighted
	suppress SuppressionPolicy

	mu      sync.Mutex
	pending *protocol.Interaction
}

func New(st *store.Store, chat ChatClient, archives *archive.Manager, cfg config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    st,
		chat:     chat,
		archives: archives,
		rec:      reconcile.New(st, log),
		cfg:      cfg,
		log:      log,
		sem:      semaphore.NewWeighted(1),
		suppress: RandomSuppression(cfg.InteractionRate, nil),
	}
}

// SetSuppression replaces the interaction gate policy.
func (e *Engine) SetSuppression(p SuppressionPolicy) {
	e.suppress = p
}

// PendingInteraction returns a copy of the interaction awaiting a
// roll, or nil when idle.
func (e *Engine) PendingInteraction() *protocol.Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

func (e *Engine) setPending(i *protocol.Interaction) {
	e.mu.Lock()
	e.pending = i
	e.mu.Unlock()
}

// ProcessUserMessage runs one full narrative turn for the player's
// input. Returns ErrBusy when another turn holds the engine.
func (e *Engine) ProcessUserMessage(ctx context.Context, content string, sinks Sinks) error {
	if !e.sem.TryAcquire(1) {
		return ErrBusy
	}
	defer e.sem.Release(1)

	history, err := e.store.History(ctx)
	if err != nil {
		return err
	}
	if err := e.store.AppendEntry(ctx, &store.ChronicleEntry{
		Turn:      len(history) + 1,
		Role:      store.RoleUser,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return err
	}

	if err := e.generate(ctx, sinks); err != nil {
		return err
	}
	e.autoSave(ctx)
	return nil
}

// ResolveInteraction records the player's roll against the pending
// check and re-triggers narration with the outcome in history.
func (e *Engine) ResolveInteraction(ctx context.Context, rollTotal int, sinks Sinks) error {
	if !e.sem.TryAcquire(1) {
		return ErrBusy
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending == nil {
		return ErrNoPendingInteraction
	}

	outcome := "FAILURE"
	if pending.DC > 0 && rollTotal >= pending.DC {
		outcome = "SUCCESS"
	}
	dcText := "?"
	if pending.DC > 0 {
		dcText = fmt.Sprintf("%d", pending.DC)
	}
	resultMsg := fmt.Sprintf(" | Roll: %d (DC %s) => %s", rollTotal, dcText, outcome)

	history, err := e.store.History(ctx)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		if last.Role == store.RoleSystem && strings.HasPrefix(last.Content, diceEntryPrefix) {
			if err := e.store.UpdateEntryContent(ctx, last.ID, last.Content+resultMsg); err != nil {
				return err
			}
		}
	}

	e.setPending(nil)
	if err := e.generate(ctx, sinks); err != nil {
		return err
	}
	e.autoSave(ctx)
	return nil
}

// Rollback discards every entry at or past turn and clears any
// pending interaction.
func (e *Engine) Rollback(ctx context.Context, turn int) error {
	if !e.sem.TryAcquire(1) {
		return ErrBusy
	}
	defer e.sem.Release(1)

	if err := e.store.DeleteEntriesFrom(ctx, turn); err != nil {
		return err
	}
	e.setPending(nil)
	e.autoSave(ctx)
	return nil
}

// generate runs the two-phase prompt protocol against the current
// store state and applies everything the response carries.
func (e *Engine) generate(ctx context.Context, sinks Sinks) error {
	history, err := e.store.History(ctx)
	if err != nil {
		return err
	}

	// The latest user entry becomes the prompt input; everything else
	// is transcript. After a system or assistant entry the input is
	// empty and the model reacts to the transcript alone.
	userInput := ""
	transcript := history
	if len(history) > 0 && history[len(history)-1].Role == store.RoleUser {
		userInput = history[len(history)-1].Content
		transcript = history[:len(history)-1]
	}

	docs, err := e.store.AllCards(ctx)
	if err != nil {
		return err
	}
	activeIDs, err := e.store.ActiveCharacterIDs(ctx)
	if err != nil {
		return err
	}
	meta, _, err := e.store.WorldMeta(ctx)
	if err != nil {
		return err
	}

	neededIDs := e.runDiscovery(ctx, discoveryArgs{
		worldName:  meta.Name,
		docs:       docs,
		activeIDs:  activeIDs,
		transcript: transcript,
		userInput:  userInput,
	})

	// Suggestions may have grown the active set.
	activeIDs, err = e.store.ActiveCharacterIDs(ctx)
	if err != nil {
		return err
	}
	supplements, err := e.store.BulkGetCards(ctx, neededIDs)
	if err != nil {
		return err
	}

	narrativePrompt := e.buildNarrative(meta.Name, docs, activeIDs, supplements, transcript, userInput)

	raw, err := e.chat.Chat(ctx, narrativePrompt, sinks.OnToken, sinks.OnRoll)
	if err != nil {
		return err
	}

	response, err := protocol.Parse(raw)
	if err != nil {
		// Unparseable output still narrates: wrap it as environment
		// text so the turn is not lost.
		e.log.Warn("falling back to raw narration", zap.Error(err))
		response = protocol.Fallback(raw)
	} else if err := protocol.ValidateEnvelope(response.Encode()); err != nil {
		e.log.Debug("envelope failed schema validation", zap.Error(err))
	}

	if len(response.WorldUpdates) > 0 {
		for _, note := range e.rec.Apply(ctx, response.WorldUpdates) {
			if err := e.appendSystemEntry(ctx, "[System] "+note); err != nil {
				return err
			}
			if sinks.OnNotification != nil {
				sinks.OnNotification(note)
			}
		}
	}
	if ar := response.ActiveRole; ar != nil {
		if _, err := e.store.UpdateActiveCharacters(ctx, ar.Add, ar.Delete); err != nil {
			return err
		}
	}

	history, err = e.store.History(ctx)
	if err != nil {
		return err
	}
	if err := e.store.AppendEntry(ctx, &store.ChronicleEntry{
		Turn:      len(history) + 1,
		Role:      store.RoleAssistant,
		Content:   response.Encode(),
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return err
	}

	return e.gateInteraction(ctx, response.Interaction)
}

type discoveryArgs struct {
	worldName  string
	docs       []world.Doc
	activeIDs  []string
	transcript []store.ChronicleEntry
	userInput  string
}

// runDiscovery asks the model which cards it needs. Failures are
// non-fatal: the narrative proceeds without supplements.
func (e *Engine) runDiscovery(ctx context.Context, args discoveryArgs) []string {
	discoveryPrompt := prompt.Discovery(prompt.DiscoveryInput{
		WorldName: args.worldName,
		Index:     args.docs,
		Snapshot:  world.BuildSnapshot(args.docs, args.activeIDs),
		History:   args.transcript,
		UserInput: args.userInput,
	})

	raw, err := e.chat.Chat(ctx, discoveryPrompt, nil, nil)
	if err != nil {
		e.log.Warn("discovery phase failed, proceeding without supplements", zap.Error(err))
		return nil
	}
	response, err := protocol.Parse(raw)
	if err != nil {
		e.log.Warn("discovery response unparseable", zap.Error(err))
		return nil
	}

	if len(response.ActiveRoleSuggestions) > 0 {
		if _, err := e.store.UpdateActiveCharacters(ctx, response.ActiveRoleSuggestions, nil); err != nil {
			e.log.Warn("failed to apply active role suggestions", zap.Error(err))
		}
	}
	return response.NeededCardIDs
}

func (e *Engine) buildNarrative(worldName string, docs []world.Doc, activeIDs []string, supplements []world.Doc, transcript []store.ChronicleEntry, userInput string) string {
	levelSetting, classSetting := findScalingSettings(docs)
	return prompt.Narrative(prompt.NarrativeInput{
		WorldName:    worldName,
		Snapshot:     world.BuildSnapshot(docs, activeIDs),
		Supplements:  supplements,
		History:      transcript,
		UserInput:    userInput,
		Language:     e.cfg.Language,
		LevelSetting: levelSetting,
		ClassSetting: classSetting,
	})
}

// gateInteraction decides whether a proposed roll reaches the player.
func (e *Engine) gateInteraction(ctx context.Context, interaction *protocol.Interaction) error {
	if interaction == nil || !interaction.NeedsRoll {
		e.setPending(nil)
		return nil
	}
	if e.suppress() {
		e.log.Debug("suppressing proposed dice interaction",
			zap.String("description", interaction.Description))
		e.setPending(nil)
		return nil
	}

	e.setPending(interaction)
	attrText := ""
	if interaction.Attribute != "" {
		attrText = " with " + interaction.Attribute
	}
	desc := interaction.Description
	if desc == "" {
		desc = "Action"
	}
	return e.appendSystemEntry(ctx, fmt.Sprintf("%s %s%s", diceEntryPrefix, desc, attrText))
}

func (e *Engine) appendSystemEntry(ctx context.Context, content string) error {
	history, err := e.store.History(ctx)
	if err != nil {
		return err
	}
	return e.store.AppendEntry(ctx, &store.ChronicleEntry{
		Turn:      len(history) + 1,
		Role:      store.RoleSystem,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
}

// findScalingSettings picks the setting cards that drive character
// display titles: the first with scaling modes levels against, and the
// first with a flat suffix ladder for class names.
func findScalingSettings(docs []world.Doc) (levelSetting, classSetting *world.SettingCard) {
	for _, doc := range docs {
		card, err := world.DecodeCard(doc)
		if err != nil {
			continue
		}
		s, ok := card.(world.SettingCard)
		if !ok {
			continue
		}
		if levelSetting == nil && len(s.ScalingModes) > 0 {
			setting := s
			levelSetting = &setting
		}
		if classSetting == nil && s.Step > 0 && len(s.SuffixNames) > 0 {
			setting := s
			classSetting = &setting
		}
	}
	return levelSetting, classSetting
}

// autoSave persists the session archive; failures are logged, never
// surfaced, so a full disk cannot kill a turn.
func (e *Engine) autoSave(ctx context.Context) {
	if e.archives == nil {
		return
	}
	if _, err := e.SaveArchive(ctx); err != nil {
		e.log.Warn("archive auto-save failed", zap.Error(err))
	}
}
