// Package protocol defines the structured envelope exchanged with the
// model and the recovery logic for extracting it from raw output.
package protocol

import "encoding/json"

// Sequence item kinds.
const (
	SequenceEnvironment = "environment"
	SequenceDialogue    = "dialogue"
)

// World update actions.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
)

// SequenceItem is one narration beat: scene description or a line of
// dialogue attributed to a speaker.
type SequenceItem struct {
	Type        string `json:"type"`
	SpeakerName string `json:"speaker_name,omitempty"`
	Content     string `json:"content"`
}

// Interaction is a requested dice check gating narrative continuation.
type Interaction struct {
	NeedsRoll   bool   `json:"needs_roll"`
	Attribute   string `json:"attribute,omitempty"`
	DC          int    `json:"dc,omitempty"`
	Description string `json:"description,omitempty"`
}

// ActiveRole adjusts the active-character-id set.
type ActiveRole struct {
	Add    []string `json:"add,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

// WorldUpdate is a model-proposed entity creation or mutation.
type WorldUpdate struct {
	Action   string         `json:"action"`
	Type     string         `json:"type"`
	TargetID string         `json:"target_id,omitempty"`
	Data     map[string]any `json:"data"`
}

// Response is the full envelope. Narrative responses carry Sequence,
// Interaction, ActiveRole and WorldUpdates; discovery responses carry
// NeededCardIDs and ActiveRoleSuggestions.
type Response struct {
	Sequence              []SequenceItem `json:"sequence,omitempty"`
	Interaction           *Interaction   `json:"interaction,omitempty"`
	ActiveRole            *ActiveRole    `json:"active_role,omitempty"`
	WorldUpdates          []WorldUpdate  `json:"world_updates,omitempty"`
	NeededCardIDs         []string       `json:"needed_card_ids,omitempty"`
	ActiveRoleSuggestions []string       `json:"active_role_suggestions,omitempty"`
}

// Fallback wraps raw, unparseable model output as a single environment
// narration so the turn still produces a readable entry.
func Fallback(raw string) *Response {
	return &Response{
		Sequence: []SequenceItem{{Type: SequenceEnvironment, Content: raw}},
	}
}

// Encode serializes an envelope for storage inside a chronicle entry.
func (r *Response) Encode() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}
