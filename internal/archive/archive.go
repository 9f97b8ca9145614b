// Package archive persists session snapshots as rotating save files,
// keeping the five most recent per world.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"faramita/internal/store"
	"faramita/internal/world"
)

// maxSavesPerWorld bounds the rotation window. Before each write,
// oldest saves are evicted until four remain.
const maxSavesPerWorld = 5

// saveSuffix identifies archive files in the save directory.
const saveSuffix = ".save"

// Archive is the serialized session payload.
type Archive struct {
	WorldMeta         world.WorldMeta        `json:"world_meta"`
	Timestamp         int64                  `json:"timestamp"`
	ActiveInformation []string               `json:"active_information"`
	History           []store.ChronicleEntry `json:"history"`
}

// SaveInfo is one archive file listing entry.
type SaveInfo struct {
	Filename  string `json:"filename"`
	Timestamp int64  `json:"timestamp"`
}

// Manager owns one save directory shared by all worlds.
type Manager struct {
	dir string
	log *zap.Logger
}

func NewManager(dir string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{dir: dir, log: log}
}

// Save rotates old saves for the world and writes a new file named
// {worldName}_{worldID}_{unixMilli}.save. Returns the filename.
func (m *Manager) Save(a *Archive, worldID, worldName string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}

	existing, err := m.worldSaves(worldID)
	if err != nil {
		return "", err
	}
	if len(existing) >= maxSavesPerWorld {
		// Oldest first; keep maxSavesPerWorld-1 so the new write lands
		// inside the window.
		sort.Slice(existing, func(i, j int) bool { return existing[i].Timestamp < existing[j].Timestamp })
		for _, old := range existing[:len(existing)-(maxSavesPerWorld-1)] {
			if err := os.Remove(filepath.Join(m.dir, old.Filename)); err != nil {
				m.log.Warn("failed to evict old save", zap.String("file", old.Filename), zap.Error(err))
				continue
			}
			m.log.Debug("evicted old save", zap.String("file", old.Filename))
		}
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%d%s", worldName, worldID, time.Now().UnixMilli(), saveSuffix)
	if err := os.WriteFile(filepath.Join(m.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	return filename, nil
}

// List returns the world's saves newest-first.
func (m *Manager) List(worldID string) ([]SaveInfo, error) {
	saves, err := m.worldSaves(worldID)
	if err != nil {
		return nil, err
	}
	sort.Slice(saves, func(i, j int) bool { return saves[i].Timestamp > saves[j].Timestamp })
	return saves, nil
}

// Load reads and decodes one archive file by name.
func (m *Manager) Load(filename string) (*Archive, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("invalid archive format: %w", err)
	}
	return &a, nil
}

// Delete removes one archive file by name.
func (m *Manager) Delete(filename string) error {
	if err := os.Remove(filepath.Join(m.dir, filepath.Base(filename))); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}

func (m *Manager) worldSaves(worldID string) ([]SaveInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read save dir: %w", err)
	}

	var saves []SaveInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, saveSuffix) || !strings.Contains(name, worldID) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		saves = append(saves, SaveInfo{Filename: name, Timestamp: info.ModTime().UnixMilli()})
	}
	return saves, nil
}
