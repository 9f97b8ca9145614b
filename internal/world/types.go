// Package world defines the card model of the entity store and the
// per-turn snapshot view fed to the prompt builders.
package world

import (
	"encoding/json"
	"fmt"
)

// CardType discriminates the card union. The store keys every document
// by its "type" field; DecodeCard dispatches on it.
type CardType string

const (
	TypeSetting     CardType = "setting"
	TypeChapter     CardType = "chapter"
	TypeCharacter   CardType = "character"
	TypeInteraction CardType = "interaction"
	TypeCustom      CardType = "custom"
)

// Chapter statuses.
const (
	ChapterPending   = "pending"
	ChapterActive    = "active"
	ChapterCompleted = "completed"
)

// WorldMeta identifies a world book.
type WorldMeta struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// Visibility controls whether a card is exposed to the model/player.
type Visibility struct {
	PublicVisible   bool    `json:"public_visible"`
	PlayerVisible   bool    `json:"player_visible"`
	UnlockCondition *string `json:"unlock_condition"`
	IsLearned       bool    `json:"is_learned,omitempty"`
}

// PlotPoint is a beat inside a chapter. SecretNotes are GM-only in the
// UI but are rendered verbatim into the narrative prompt.
type PlotPoint struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	SecretNotes string `json:"secret_notes"`
}

// Attributes are the six standard ability scores.
type Attributes struct {
	Str int `json:"str"`
	Dex int `json:"dex"`
	Con int `json:"con"`
	Int int `json:"int"`
	Wis int `json:"wis"`
	Cha int `json:"cha"`
}

// InventoryItem is a carried item on a character card.
type InventoryItem struct {
	Item        string  `json:"item"`
	Description string  `json:"description"`
	Effect      *string `json:"effect"`
}

// ScalingMode maps level bands to prefix titles for one affiliation.
type ScalingMode struct {
	Step        int      `json:"step"`
	PrefixNames []string `json:"prefix_names"`
}

// Card is the closed sum of world card variants.
type Card interface {
	CardID() string
	Kind() CardType
	Vis() Visibility
}

// SettingCard is global world context (background, races, rules...).
type SettingCard struct {
	ID           string                 `json:"id"`
	Type         CardType               `json:"type"`
	Visible      Visibility             `json:"visible"`
	Category     string                 `json:"category"`
	Title        string                 `json:"title,omitempty"`
	Content      string                 `json:"content,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	BaseRange    []int                  `json:"base_range,omitempty"`
	ScalingModes map[string]ScalingMode `json:"scaling_modes,omitempty"`
	DefaultMode  string                 `json:"default_mode,omitempty"`
	Step         int                    `json:"step,omitempty"`
	SuffixNames  []string               `json:"suffix_names,omitempty"`
}

// ChapterCard is one arc of the story. At most one chapter should be
// active at a time, but nothing enforces that at write time; snapshot
// construction picks the first active one it sees.
type ChapterCard struct {
	ID         string      `json:"id"`
	Type       CardType    `json:"type"`
	Visible    Visibility  `json:"visible"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary,omitempty"`
	Objective  string      `json:"objective"`
	Status     string      `json:"status"`
	IsCurrent  bool        `json:"is_current"`
	PlotPoints []PlotPoint `json:"plot_points"`
	Rewards    []string    `json:"rewards,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

// CharacterCard owns the mutable gameplay fields.
type CharacterCard struct {
	ID          string          `json:"id"`
	Type        CardType        `json:"type"`
	Visible     Visibility      `json:"visible"`
	Name        string          `json:"name"`
	PrefixName  string          `json:"prefix_name,omitempty"`
	Race        any             `json:"race"` // string or []string in the wild
	Age         int             `json:"age"`
	Gender      string          `json:"gender"`
	Class       string          `json:"class"`
	Level       int             `json:"level"`
	Affiliation []string        `json:"affiliation"`
	Status      []string        `json:"status"`
	Attributes  Attributes      `json:"attributes"`
	Personality []string        `json:"personality"`
	Inventory   []InventoryItem `json:"inventory"`
	Background  []string        `json:"background"`
	Tags        []string        `json:"tags"`
}

// InteractionCard describes a usable skill or ability.
type InteractionCard struct {
	ID       string     `json:"id"`
	Type     CardType   `json:"type"`
	Visible  Visibility `json:"visible"`
	Name     string     `json:"name"`
	MinLevel int        `json:"min_level"`
	Element  string     `json:"element"`
	Cost     string     `json:"cost"`
	D20Logic *string    `json:"d20_logic"`
	Effect   string     `json:"effect"`
}

// CustomCard is free-form user content.
type CustomCard struct {
	ID       string     `json:"id"`
	Type     CardType   `json:"type"`
	Visible  Visibility `json:"visible"`
	Category string     `json:"category"`
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Tags     []string   `json:"tags"`
}

func (c SettingCard) CardID() string      { return c.ID }
func (c SettingCard) Kind() CardType      { return TypeSetting }
func (c SettingCard) Vis() Visibility     { return c.Visible }
func (c ChapterCard) CardID() string      { return c.ID }
func (c ChapterCard) Kind() CardType      { return TypeChapter }
func (c ChapterCard) Vis() Visibility     { return c.Visible }
func (c CharacterCard) CardID() string    { return c.ID }
func (c CharacterCard) Kind() CardType    { return TypeCharacter }
func (c CharacterCard) Vis() Visibility   { return c.Visible }
func (c InteractionCard) CardID() string  { return c.ID }
func (c InteractionCard) Kind() CardType  { return TypeInteraction }
func (c InteractionCard) Vis() Visibility { return c.Visible }
func (c CustomCard) CardID() string       { return c.ID }
func (c CustomCard) Kind() CardType       { return TypeCustom }
func (c CustomCard) Vis() Visibility      { return c.Visible }

// RaceText renders the race field, which historical world books store
// as either a string or a list.
func (c CharacterCard) RaceText() string {
	switch v := c.Race.(type) {
	case string:
		return v
	case []any:
		out := ""
		for i, item := range v {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%v", item)
		}
		return out
	default:
		return ""
	}
}

// Doc is a raw card document as stored. Deep-merge reconciliation and
// the discovery index operate on documents; typed views are decoded on
// demand.
type Doc = map[string]any

// DocID returns the document's id, or "".
func DocID(doc Doc) string {
	s, _ := doc["id"].(string)
	return s
}

// DocType returns the document's card type, or "".
func DocType(doc Doc) CardType {
	s, _ := doc["type"].(string)
	return CardType(s)
}

// DocName returns the document's display name: "name" where present,
// then "title", then a placeholder.
func DocName(doc Doc) string {
	if s, _ := doc["name"].(string); s != "" {
		return s
	}
	if s, _ := doc["title"].(string); s != "" {
		return s
	}
	return "Unknown"
}

// DecodeCard converts a raw document into its typed variant.
func DecodeCard(doc Doc) (Card, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode card %q: %w", DocID(doc), err)
	}

	switch DocType(doc) {
	case TypeSetting:
		var c SettingCard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode setting %q: %w", DocID(doc), err)
		}
		return c, nil
	case TypeChapter:
		var c ChapterCard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode chapter %q: %w", DocID(doc), err)
		}
		return c, nil
	case TypeCharacter:
		var c CharacterCard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode character %q: %w", DocID(doc), err)
		}
		return c, nil
	case TypeInteraction:
		var c InteractionCard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode interaction %q: %w", DocID(doc), err)
		}
		return c, nil
	case TypeCustom:
		var c CustomCard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode custom %q: %w", DocID(doc), err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown card type %q for id %q", DocType(doc), DocID(doc))
	}
}
