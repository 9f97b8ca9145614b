package world

// CharacterRef is the id+name summary used for inactive characters,
// bounding prompt size.
type CharacterRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Snapshot is the ephemeral, per-turn filtered view of the world.
// Recomputed from the entity store on every turn; never persisted.
type Snapshot struct {
	ActiveChapter      *ChapterCard
	ActiveCharacters   []CharacterCard
	InactiveCharacters []CharacterRef
	Settings           []SettingCard
}

// BuildSnapshot filters the full card collection for prompting: the
// active chapter, characters partitioned by the active-id set, and
// settings visible to the public or the player. Pure function of its
// inputs. Documents that fail to decode are skipped; if several
// chapters are marked active, whichever decodes first wins.
func BuildSnapshot(docs []Doc, activeIDs []string) Snapshot {
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	var snap Snapshot
	for _, doc := range docs {
		card, err := DecodeCard(doc)
		if err != nil {
			continue
		}

		switch c := card.(type) {
		case ChapterCard:
			if snap.ActiveChapter == nil && c.Status == ChapterActive {
				chapter := c
				snap.ActiveChapter = &chapter
			}
		case CharacterCard:
			if active[c.ID] {
				snap.ActiveCharacters = append(snap.ActiveCharacters, c)
			} else {
				snap.InactiveCharacters = append(snap.InactiveCharacters, CharacterRef{ID: c.ID, Name: c.Name})
			}
		case SettingCard:
			if c.Visible.PublicVisible || c.Visible.PlayerVisible {
				snap.Settings = append(snap.Settings, c)
			}
		}
	}
	return snap
}
