package world

import "fmt"

// AttributeBonus converts an ability score to its modifier.
func AttributeBonus(value int) int {
	bonus := value - 10
	if bonus < 0 {
		// floor division for negative scores
		return (bonus - 1) / 2
	}
	return bonus / 2
}

// LevelDisplay renders a level against a setting card's scaling rules.
// A named scaling mode takes precedence over the flat suffix ladder;
// with neither configured it falls back to "<title> Lv.N".
func LevelDisplay(level int, setting SettingCard, modeName string, suffixOnly bool) string {
	if modeName != "" {
		if mode, ok := setting.ScalingModes[modeName]; ok && mode.Step > 0 && len(mode.PrefixNames) > 0 {
			prefix := mode.PrefixNames[bandIndex(level, mode.Step, len(mode.PrefixNames))]
			if suffixOnly {
				return prefix
			}
			return prefix + setting.Title
		}
	}

	if len(setting.SuffixNames) > 0 && setting.Step > 0 {
		suffix := setting.SuffixNames[bandIndex(level, setting.Step, len(setting.SuffixNames))]
		if suffixOnly {
			return suffix
		}
		return setting.Title + suffix
	}

	if suffixOnly {
		return fmt.Sprintf("%d", level)
	}
	return fmt.Sprintf("%s Lv.%d", setting.Title, level)
}

// CharacterTitle composes a character's display title from the level
// and class setting cards. A manual prefix name overrides the
// affiliation-derived prefix.
func CharacterTitle(c CharacterCard, levelSetting, classSetting *SettingCard) string {
	classSuffix := c.Class
	if classSetting != nil {
		classSuffix = LevelDisplay(c.Level, *classSetting, "", true)
	}

	if c.PrefixName != "" {
		return c.PrefixName + " " + classSuffix
	}

	var prefix string
	if levelSetting != nil && len(levelSetting.ScalingModes) > 0 {
		modeName := levelSetting.DefaultMode
		for _, aff := range c.Affiliation {
			if _, ok := levelSetting.ScalingModes[aff]; ok {
				modeName = aff
				break
			}
		}
		if mode, ok := levelSetting.ScalingModes[modeName]; ok && mode.Step > 0 && len(mode.PrefixNames) > 0 {
			prefix = mode.PrefixNames[bandIndex(c.Level, mode.Step, len(mode.PrefixNames))]
		}
	}

	if prefix != "" {
		return prefix + " " + classSuffix
	}
	return classSuffix
}

func bandIndex(level, step, bands int) int {
	idx := (level - 1) / step
	if idx < 0 {
		idx = 0
	}
	if idx >= bands {
		idx = bands - 1
	}
	return idx
}
