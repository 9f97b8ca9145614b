package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"faramita/internal/archive"
	"faramita/internal/client"
	"faramita/internal/config"
	"faramita/internal/store"
	"faramita/internal/world"
)

// scriptedChat replays canned responses in call order and records
// every prompt it was given.
type scriptedChat struct {
	mu        sync.Mutex
	prompts   []string
	responses []chatScript
	calls     int
	block     chan struct{}
}

type chatScript struct {
	text string
	err  error
}

func (s *scriptedChat) Chat(ctx context.Context, userPrompt string, onToken client.TokenFunc, onRoll client.RollFunc) (string, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, userPrompt)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if idx >= len(s.responses) {
		return "", fmt.Errorf("unexpected chat call %d", idx)
	}
	r := s.responses[idx]
	if r.err != nil {
		return "", r.err
	}
	if onToken != nil {
		onToken(r.text)
	}
	return r.text, nil
}

func (s *scriptedChat) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.prompts) {
		return ""
	}
	return s.prompts[i]
}

const (
	emptyDiscovery = `{"needed_card_ids":[],"active_role_suggestions":[]}`
	plainNarrative = `{"sequence":[{"type":"environment","content":"The wind howls."}],` +
		`"interaction":{"needs_roll":false},"active_role":{"add":[],"delete":[]},"world_updates":[]}`
)

func testEngine(t *testing.T, chat ChatClient) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "world.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.SetWorldMeta(ctx, world.WorldMeta{UUID: "w-1", Name: "Vale"}); err != nil {
		t.Fatal(err)
	}
	seed := []world.Doc{
		{"id": "char-001", "type": "character", "name": "Aldric", "visible": map[string]any{"public_visible": true, "player_visible": true}},
		{"id": "char-002", "type": "character", "name": "Mirelle", "visible": map[string]any{"public_visible": true, "player_visible": true}},
		{"id": "set-001", "type": "setting", "category": "rules", "title": "Magic", "content": "Magic is scarce",
			"visible": map[string]any{"public_visible": true, "player_visible": true}},
		{"id": "chapter-001", "type": "chapter", "title": "The Hollow Gate", "objective": "Reach the gate", "status": "active",
			"visible": map[string]any{"public_visible": true, "player_visible": true}},
	}
	if err := st.BulkPutCards(ctx, seed); err != nil {
		t.Fatal(err)
	}
	if err := st.SetActiveCharacterIDs(ctx, []string{"char-001"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Language = "English"
	e := New(st, chat, archive.NewManager(t.TempDir(), nil), cfg, nil)
	e.SetSuppression(NeverSuppress())
	return e, st
}

func TestProcessUserMessage_FullTurn(t *testing.T) {
	narrative := `{"sequence":[{"type":"dialogue","speaker_name":"Mirelle","content":"Halt."}],` +
		`"interaction":{"needs_roll":true,"attribute":"dex","dc":15,"description":"Dodge the bolt"},` +
		`"active_role":{"add":[],"delete":[]},` +
		`"world_updates":[{"action":"CREATE","type":"character","data":{"id":"char-100","name":"Bram"}}]}`
	chat := &scriptedChat{responses: []chatScript{
		{text: `{"needed_card_ids":["set-001"],"active_role_suggestions":["char-002"]}`},
		{text: narrative},
	}}
	e, st := testEngine(t, chat)
	ctx := context.Background()

	var tokens, notes []string
	err := e.ProcessUserMessage(ctx, "I step into the pass", Sinks{
		OnToken:        func(d string) { tokens = append(tokens, d) },
		OnNotification: func(n string) { notes = append(notes, n) },
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// Discovery saw the card index; narrative saw the requested
	// supplement and the activated character.
	if !strings.Contains(chat.prompt(0), "- [setting] Magic (ID: set-001)") {
		t.Error("discovery prompt missing card index")
	}
	if !strings.Contains(chat.prompt(1), "Magic is scarce") {
		t.Error("narrative prompt missing supplement content")
	}
	if !strings.Contains(chat.prompt(1), "### Mirelle (ID: char-002)") {
		t.Error("narrative prompt missing character activated by discovery suggestion")
	}

	if len(tokens) == 0 || strings.Join(tokens, "") != narrative {
		t.Error("narrative tokens not streamed to sink")
	}
	if diff := cmp.Diff([]string{"Created new character: Bram"}, notes); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}

	history, _ := st.History(ctx)
	var contents []string
	for _, h := range history {
		contents = append(contents, fmt.Sprintf("%s|%s", h.Role, h.Content))
	}
	if len(history) != 4 {
		t.Fatalf("history = %v", contents)
	}
	if history[0].Role != store.RoleUser {
		t.Errorf("entry 0 = %v", contents[0])
	}
	if history[1].Content != "[System] Created new character: Bram" {
		t.Errorf("entry 1 = %v", contents[1])
	}
	if history[2].Role != store.RoleAssistant || !strings.Contains(history[2].Content, "Halt.") {
		t.Errorf("entry 2 = %v", contents[2])
	}
	if history[3].Content != "[SYSTEM] [DICE] Dodge the bolt with dex" {
		t.Errorf("entry 3 = %v", contents[3])
	}

	// Created character and suggestion both joined the active set.
	ids, _ := st.ActiveCharacterIDs(ctx)
	if diff := cmp.Diff([]string{"char-001", "char-002", "char-100"}, ids); diff != "" {
		t.Errorf("active ids (-want +got):\n%s", diff)
	}

	pending := e.PendingInteraction()
	if pending == nil || pending.DC != 15 {
		t.Errorf("pending = %+v", pending)
	}

	// Turn auto-saved an archive.
	saves, err := e.ListArchives(ctx)
	if err != nil || len(saves) == 0 {
		t.Errorf("archives = %v, err = %v", saves, err)
	}
}

func TestResolveInteraction(t *testing.T) {
	tests := []struct {
		name string
		roll int
		want string
	}{
		{"success at dc", 18, " | Roll: 18 (DC 15) => SUCCESS"},
		{"failure below dc", 10, " | Roll: 10 (DC 15) => FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pendingNarrative := `{"sequence":[{"type":"environment","content":"Steady..."}],` +
				`"interaction":{"needs_roll":true,"attribute":"dex","dc":15,"description":"Dodge"}}`
			chat := &scriptedChat{responses: []chatScript{
				{text: emptyDiscovery},
				{text: pendingNarrative},
				{text: emptyDiscovery},
				{text: plainNarrative},
			}}
			e, st := testEngine(t, chat)
			ctx := context.Background()

			if err := e.ProcessUserMessage(ctx, "I dodge", Sinks{}); err != nil {
				t.Fatal(err)
			}
			if e.PendingInteraction() == nil {
				t.Fatal("no pending interaction after roll request")
			}

			if err := e.ResolveInteraction(ctx, tt.roll, Sinks{}); err != nil {
				t.Fatalf("resolve: %v", err)
			}

			history, _ := st.History(ctx)
			var diceEntry string
			for _, h := range history {
				if strings.HasPrefix(h.Content, "[SYSTEM] [DICE]") {
					diceEntry = h.Content
				}
			}
			if !strings.HasSuffix(diceEntry, tt.want) {
				t.Errorf("dice entry = %q, want suffix %q", diceEntry, tt.want)
			}
			if e.PendingInteraction() != nil {
				t.Error("pending interaction survived resolution")
			}
			// Resolution re-triggered narration.
			if last := history[len(history)-1]; last.Role != store.RoleAssistant {
				t.Errorf("last entry role = %s", last.Role)
			}
		})
	}
}

func TestResolveInteraction_NonePending(t *testing.T) {
	e, _ := testEngine(t, &scriptedChat{})
	if err := e.ResolveInteraction(context.Background(), 12, Sinks{}); !errors.Is(err, ErrNoPendingInteraction) {
		t.Errorf("err = %v, want ErrNoPendingInteraction", err)
	}
}

func TestProcessUserMessage_Busy(t *testing.T) {
	block := make(chan struct{})
	chat := &scriptedChat{
		block:     block,
		responses: []chatScript{{text: emptyDiscovery}, {text: plainNarrative}},
	}
	e, _ := testEngine(t, chat)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- e.ProcessUserMessage(ctx, "first", Sinks{}) }()

	// Wait for the first turn to reach the chat call.
	for {
		chat.mu.Lock()
		started := chat.calls > 0
		chat.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := e.ProcessUserMessage(ctx, "second", Sinks{}); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent turn err = %v, want ErrBusy", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
}

func TestProcessUserMessage_FallbackOnParseError(t *testing.T) {
	chat := &scriptedChat{responses: []chatScript{
		{text: emptyDiscovery},
		{text: "The model rambles with no structure at all"},
	}}
	e, st := testEngine(t, chat)
	ctx := context.Background()

	if err := e.ProcessUserMessage(ctx, "hello", Sinks{}); err != nil {
		t.Fatalf("process: %v", err)
	}

	history, _ := st.History(ctx)
	last := history[len(history)-1]
	if last.Role != store.RoleAssistant {
		t.Fatalf("last role = %s", last.Role)
	}
	want := `{"sequence":[{"type":"environment","content":"The model rambles with no structure at all"}]}`
	if last.Content != want {
		t.Errorf("fallback entry = %s", last.Content)
	}
}

func TestProcessUserMessage_FencedEnvelope(t *testing.T) {
	fenced := "Here is the turn.\n```json\n" + plainNarrative + "\n```"
	chat := &scriptedChat{responses: []chatScript{
		{text: emptyDiscovery},
		{text: fenced},
	}}

	st, err := store.Open(filepath.Join(t.TempDir(), "world.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.SetWorldMeta(ctx, world.WorldMeta{UUID: "w-1", Name: "Vale"}); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	e := New(st, chat, archive.NewManager(t.TempDir(), nil), config.Default(), zap.New(core))
	e.SetSuppression(NeverSuppress())

	if err := e.ProcessUserMessage(ctx, "hello", Sinks{}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The recovered envelope is stored in canonical form, and the
	// schema check runs against it rather than the fenced raw text.
	history, _ := st.History(ctx)
	last := history[len(history)-1]
	if last.Role != store.RoleAssistant || strings.Contains(last.Content, "```") {
		t.Errorf("assistant entry = %s", last.Content)
	}
	for _, entry := range logs.All() {
		switch entry.Message {
		case "falling back to raw narration", "envelope failed schema validation":
			t.Errorf("fenced envelope logged %q", entry.Message)
		}
	}
}

func TestProcessUserMessage_DiscoveryFailureNonFatal(t *testing.T) {
	chat := &scriptedChat{responses: []chatScript{
		{err: errors.New("upstream exploded")},
		{text: plainNarrative},
	}}
	e, st := testEngine(t, chat)

	if err := e.ProcessUserMessage(context.Background(), "hello", Sinks{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	history, _ := st.History(context.Background())
	if last := history[len(history)-1]; last.Role != store.RoleAssistant {
		t.Errorf("turn did not complete after discovery failure: %v", history)
	}
}

func TestInteractionSuppression(t *testing.T) {
	rollRequest := `{"sequence":[{"type":"environment","content":"Tense."}],` +
		`"interaction":{"needs_roll":true,"dc":12,"description":"Sneak"}}`
	chat := &scriptedChat{responses: []chatScript{
		{text: emptyDiscovery},
		{text: rollRequest},
	}}
	e, st := testEngine(t, chat)
	e.SetSuppression(func() bool { return true })

	if err := e.ProcessUserMessage(context.Background(), "I sneak past", Sinks{}); err != nil {
		t.Fatal(err)
	}
	if e.PendingInteraction() != nil {
		t.Error("suppressed interaction still pending")
	}
	history, _ := st.History(context.Background())
	for _, h := range history {
		if strings.HasPrefix(h.Content, "[SYSTEM] [DICE]") {
			t.Error("suppressed interaction wrote a dice entry")
		}
	}
}

func TestRollback(t *testing.T) {
	chat := &scriptedChat{responses: []chatScript{
		{text: emptyDiscovery},
		{text: `{"sequence":[{"type":"environment","content":"x"}],` +
			`"interaction":{"needs_roll":true,"dc":10,"description":"Jump"}}`},
	}}
	e, st := testEngine(t, chat)
	ctx := context.Background()

	if err := e.ProcessUserMessage(ctx, "I jump", Sinks{}); err != nil {
		t.Fatal(err)
	}
	if e.PendingInteraction() == nil {
		t.Fatal("setup: no pending interaction")
	}

	if err := e.Rollback(ctx, 2); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	history, _ := st.History(ctx)
	if len(history) != 1 || history[0].Turn != 1 {
		t.Errorf("history after rollback = %+v", history)
	}
	if e.PendingInteraction() != nil {
		t.Error("rollback left interaction pending")
	}
}

func TestArchiveRoundTripThroughEngine(t *testing.T) {
	chat := &scriptedChat{responses: []chatScript{
		{text: emptyDiscovery}, {text: plainNarrative},
	}}
	e, st := testEngine(t, chat)
	ctx := context.Background()

	if err := e.ProcessUserMessage(ctx, "remember me", Sinks{}); err != nil {
		t.Fatal(err)
	}
	filename, err := e.SaveArchive(ctx)
	if err != nil {
		t.Fatalf("save archive: %v", err)
	}

	// Wreck the session, then restore.
	if err := st.ClearChronicle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := st.SetActiveCharacterIDs(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadArchive(ctx, filename); err != nil {
		t.Fatalf("load archive: %v", err)
	}
	history, _ := st.History(ctx)
	if len(history) != 2 || history[0].Content != "remember me" {
		t.Errorf("restored history = %+v", history)
	}
	ids, _ := st.ActiveCharacterIDs(ctx)
	if diff := cmp.Diff([]string{"char-001"}, ids); diff != "" {
		t.Errorf("restored active ids (-want +got):\n%s", diff)
	}
}
