// Package prompt builds the two-phase prompts sent to the upstream
// model: a cheap discovery pass over a compact card index, then the
// full narrative pass with the cards the model asked for.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"faramita/internal/store"
	"faramita/internal/world"
)

// discoveryHistoryWindow bounds how much history the discovery pass
// sees; it only needs enough to judge relevance.
const discoveryHistoryWindow = 5

// DiscoveryInput carries everything the discovery builder reads.
type DiscoveryInput struct {
	WorldName string
	Index     []world.Doc
	Snapshot  world.Snapshot
	History   []store.ChronicleEntry
	UserInput string
}

// Discovery renders the card-index prompt. The model answers with
// {needed_card_ids, active_role_suggestions} and nothing else.
func Discovery(in DiscoveryInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Role\nYou are the \"Librarian\" of the %s world database. Your job is to identify which World Cards are relevant to the user's latest input and the current context.\n\n", worldName(in.WorldName))
	b.WriteString(`# Task
1. Analyze the User Input and Recent History.
2. Review the "World Index" below.
3. Return a JSON object listing the IDs of the cards you need to read in detail to generate a narrative response.
4. IMPORTANT: If the user is starting a new game or scene, and only the "Player" is active, you MUST identify which other characters or settings should be active in this scene.
5. Return "active_role_suggestions" if you believe new characters should be permanently added to the Active Information panel.

`)

	b.WriteString("# Context\n## Active Chapter\n")
	if ch := in.Snapshot.ActiveChapter; ch != nil {
		fmt.Fprintf(&b, "%s (ID: %s)\n", ch.Title, ch.ID)
	} else {
		b.WriteString("None\n")
	}

	b.WriteString("\n## Active Characters\n")
	names := make([]string, 0, len(in.Snapshot.ActiveCharacters))
	for _, c := range in.Snapshot.ActiveCharacters {
		names = append(names, fmt.Sprintf("%s (ID: %s)", c.Name, c.ID))
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n")

	history := in.History
	if len(history) > discoveryHistoryWindow {
		history = history[len(history)-discoveryHistoryWindow:]
	}
	b.WriteString("\n## Recent History\n")
	b.WriteString(FormatHistory(history))
	b.WriteString("\n\n## User Input\n")
	b.WriteString(in.UserInput)

	b.WriteString("\n\n# World Index\n")
	for _, doc := range in.Index {
		fmt.Fprintf(&b, "- [%s] %s (ID: %s)\n", world.DocType(doc), world.DocName(doc), world.DocID(doc))
	}

	b.WriteString(`
# Response Format (JSON Only)
{
  "needed_card_ids": ["id_1", "id_2"],
  "active_role_suggestions": ["id_3", "id_4"]
}
`)
	return b.String()
}

// NarrativeInput carries everything the narrative builder reads.
// LevelSetting and ClassSetting are optional; when present they drive
// the computed display titles for active characters.
type NarrativeInput struct {
	WorldName    string
	Snapshot     world.Snapshot
	Supplements  []world.Doc
	History      []store.ChronicleEntry
	UserInput    string
	Language     string
	LevelSetting *world.SettingCard
	ClassSetting *world.SettingCard
}

// Narrative renders the full game-master prompt with the response
// envelope contract.
func Narrative(in NarrativeInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Role\nYou are the Game Master (GM) for the world of %s.\nYour goal is to weave a compelling narrative and keep the world consistent.\n\n", worldName(in.WorldName))

	b.WriteString("# World Context\n## Settings (Global Rules)\n")
	for _, s := range in.Snapshot.Settings {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Title, s.Category, s.Content)
	}

	if ch := in.Snapshot.ActiveChapter; ch != nil {
		fmt.Fprintf(&b, "\n## Current Chapter: %s\n", ch.Title)
		fmt.Fprintf(&b, "Objective: %s\n", ch.Objective)
		fmt.Fprintf(&b, "Summary: %s\n", ch.Summary)
		b.WriteString("Plot Points:\n")
		for _, p := range ch.PlotPoints {
			fmt.Fprintf(&b, "- %s: %s (Secret: %s)\n", p.Title, p.Content, p.SecretNotes)
		}
	}

	b.WriteString("\n## Active Characters\n")
	for _, c := range in.Snapshot.ActiveCharacters {
		fmt.Fprintf(&b, "### %s (ID: %s)\n", c.Name, c.ID)
		fmt.Fprintf(&b, "Title: %s\n", world.CharacterTitle(c, in.LevelSetting, in.ClassSetting))
		fmt.Fprintf(&b, "Race: %s, Class: %s, Level: %d\n", c.RaceText(), c.Class, c.Level)
		attrs, _ := json.Marshal(c.Attributes)
		fmt.Fprintf(&b, "Attributes: %s\n", attrs)
		fmt.Fprintf(&b, "Status: %s\n", orNone(strings.Join(c.Status, ", ")))
		fmt.Fprintf(&b, "Personality: %s\n", orNone(strings.Join(c.Personality, ", ")))
	}

	if len(in.Snapshot.InactiveCharacters) > 0 {
		b.WriteString("\n## Other Characters (Summary)\n")
		for _, c := range in.Snapshot.InactiveCharacters {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.ID)
		}
	}

	b.WriteString("\n## Referenced Knowledge (Dynamically Retrieved)\n")
	for _, doc := range in.Supplements {
		fmt.Fprintf(&b, "### [%s] %s (ID: %s)\n", world.DocType(doc), world.DocName(doc), world.DocID(doc))
		dump, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			continue
		}
		b.Write(dump)
		b.WriteString("\n")
	}

	b.WriteString("\n# History\n")
	b.WriteString(FormatHistory(in.History))

	b.WriteString(`

# Instruction
1. Respond to the User Input as the GM.
2. Use the provided "Referenced Knowledge" to ensure accuracy.
3. Advance the plot based on the Current Chapter's objectives.
4. DEFAULT: interaction.needs_roll = false. Only set it to true when the outcome is genuinely undecidable and would change the story in a way you cannot decide yourself.
5. If the user meets a new character or enters a new location, use 'world_updates' or 'active_role' to update the state.
6. PROACTIVE STORYTELLING: If the user input is vague, passive, or the plot has stalled, introduce a new event, threat, or discovery to drive the narrative forward.

# Language
`)
	fmt.Fprintf(&b, "You MUST output the narrative in **%s**. Internal keys and structure must remain English.\n", in.Language)

	b.WriteString(`
# Response Format
You MUST respond with a valid JSON object. Do NOT include any text outside the JSON block.
{
  "sequence": [
    { "type": "environment", "content": "Description of scene..." },
    { "type": "dialogue", "speaker_name": "Name", "content": "Speech..." }
  ],
  "interaction": {
    "needs_roll": false,
    "dc": 0,
    "description": "Reason for roll",
    "attribute": "str|dex|con|int|wis|cha"
  },
  "active_role": { "add": [], "delete": [] },
  "world_updates": [
    {
      "action": "CREATE | UPDATE",
      "type": "character | setting | interaction | chapter",
      "target_id": "id_if_update",
      "data": {}
    }
  ]
}
`)

	fmt.Fprintf(&b, "\n[USER INPUT]: %s", in.UserInput)
	return b.String()
}

// FormatHistory flattens chronicle entries into the token-efficient
// transcript form. Assistant entries hold stored response envelopes;
// their sequence is re-flattened to narration lines, and anything that
// does not decode is passed through as-is.
func FormatHistory(entries []store.ChronicleEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if e.Role == store.RoleAssistant {
			if flat, ok := flattenEnvelope(content); ok {
				content = flat
			}
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(e.Role)), content))
	}
	return strings.Join(lines, "\n")
}

func flattenEnvelope(content string) (string, bool) {
	var env struct {
		Sequence []struct {
			Type        string `json:"type"`
			SpeakerName string `json:"speaker_name"`
			Content     string `json:"content"`
		} `json:"sequence"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil || len(env.Sequence) == 0 {
		return "", false
	}

	lines := make([]string, 0, len(env.Sequence))
	for _, s := range env.Sequence {
		if s.Type == "dialogue" {
			lines = append(lines, fmt.Sprintf("%s: %s", s.SpeakerName, s.Content))
		} else {
			lines = append(lines, fmt.Sprintf("(Environment: %s)", s.Content))
		}
	}
	return strings.Join(lines, "\n"), true
}

func worldName(name string) string {
	if name == "" {
		return "this campaign"
	}
	return fmt.Sprintf("%q", name)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
