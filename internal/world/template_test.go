package world

import "testing"

const templateFixture = `{
  "world_meta": {"uuid": "w-123", "name": "Vale", "version": "1.0", "author": "gm", "description": "test world"},
  "entries": {
    "setting_cards": [{"id": "setting-001", "type": "setting", "category": "background", "title": "Vale"}],
    "chapter_cards": [{"id": "chapter-001", "type": "chapter", "title": "Embers", "objective": "x", "status": "active",
      "is_current": true, "plot_points": [],
      "visible": {"public_visible": true, "player_visible": false, "unlock_condition": "seen"}}],
    "character_cards": [{"id": "char-001", "type": "character", "name": "Aldric"}]
  }
}`

func TestParseTemplate(t *testing.T) {
	tpl, err := ParseTemplate([]byte(templateFixture))
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if tpl.WorldMeta.UUID != "w-123" || tpl.WorldMeta.Name != "Vale" {
		t.Errorf("meta = %+v", tpl.WorldMeta)
	}

	cards := tpl.Cards()
	if len(cards) != 3 {
		t.Fatalf("got %d cards, want 3", len(cards))
	}

	// Default visibility applied to cards lacking one.
	vis, ok := cards[0]["visible"].(map[string]any)
	if !ok {
		t.Fatal("setting card missing default visibility")
	}
	if vis["public_visible"] != true || vis["player_visible"] != true {
		t.Errorf("default visibility = %v", vis)
	}

	// Existing visibility preserved.
	chapterVis, _ := cards[1]["visible"].(map[string]any)
	if chapterVis["player_visible"] != false || chapterVis["unlock_condition"] != "seen" {
		t.Errorf("chapter visibility overwritten: %v", chapterVis)
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	if _, err := ParseTemplate([]byte("not json")); err == nil {
		t.Error("expected error for invalid template")
	}
}

func TestExportTemplate_RoundTrip(t *testing.T) {
	tpl, err := ParseTemplate([]byte(templateFixture))
	if err != nil {
		t.Fatal(err)
	}
	out := ExportTemplate(tpl.WorldMeta, tpl.Cards())
	if len(out.Entries.SettingCards) != 1 || len(out.Entries.ChapterCards) != 1 || len(out.Entries.CharacterCards) != 1 {
		t.Errorf("regrouped entries = %+v", out.Entries)
	}
	if out.WorldMeta != tpl.WorldMeta {
		t.Errorf("meta not carried through")
	}
}
