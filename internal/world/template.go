package world

import (
	"encoding/json"
	"fmt"
)

// TemplateEntries groups template cards by variant, matching the world
// book file layout.
type TemplateEntries struct {
	SettingCards     []Doc `json:"setting_cards,omitempty"`
	ChapterCards     []Doc `json:"chapter_cards,omitempty"`
	CharacterCards   []Doc `json:"character_cards,omitempty"`
	InteractionCards []Doc `json:"interaction_cards,omitempty"`
}

// Template is an importable/exportable world book file.
type Template struct {
	WorldMeta WorldMeta       `json:"world_meta"`
	Entries   TemplateEntries `json:"entries"`
}

// ParseTemplate decodes a world book file. Cards missing a visibility
// record get the permissive default, matching historical imports.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse world template: %w", err)
	}

	for _, group := range [][]Doc{
		tpl.Entries.SettingCards,
		tpl.Entries.ChapterCards,
		tpl.Entries.CharacterCards,
		tpl.Entries.InteractionCards,
	} {
		for _, doc := range group {
			if _, ok := doc["visible"]; !ok {
				doc["visible"] = map[string]any{
					"public_visible":   true,
					"player_visible":   true,
					"unlock_condition": nil,
				}
			}
		}
	}
	return &tpl, nil
}

// Cards flattens the template's entries in import order.
func (t *Template) Cards() []Doc {
	var out []Doc
	out = append(out, t.Entries.SettingCards...)
	out = append(out, t.Entries.ChapterCards...)
	out = append(out, t.Entries.CharacterCards...)
	out = append(out, t.Entries.InteractionCards...)
	return out
}

// ExportTemplate regroups live card documents into the world book file
// layout for saving back to disk.
func ExportTemplate(meta WorldMeta, docs []Doc) *Template {
	tpl := &Template{WorldMeta: meta}
	for _, doc := range docs {
		switch DocType(doc) {
		case TypeSetting:
			tpl.Entries.SettingCards = append(tpl.Entries.SettingCards, doc)
		case TypeChapter:
			tpl.Entries.ChapterCards = append(tpl.Entries.ChapterCards, doc)
		case TypeCharacter:
			tpl.Entries.CharacterCards = append(tpl.Entries.CharacterCards, doc)
		case TypeInteraction:
			tpl.Entries.InteractionCards = append(tpl.Entries.InteractionCards, doc)
		}
	}
	return tpl
}
