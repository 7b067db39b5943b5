package tracker

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// historyFileVersion is bumped when the on-disk layout changes.
const historyFileVersion = 1

// historyDoc is the TOML-serializable representation of a history file.
type historyDoc struct {
	Version     int      `toml:"version"`
	Component   string   `toml:"component"`
	Generations []Record `toml:"generations"`
}

// SaveHistory writes the snapshots to path atomically (write temp + rename).
func SaveHistory(path, component string, history []Snapshot) error {
	records := make([]Record, len(history))
	for i, s := range history {
		records[i] = s.Record()
	}
	return writeHistoryDoc(path, historyDoc{
		Version:     historyFileVersion,
		Component:   component,
		Generations: records,
	})
}

// LoadHistory reads snapshots from path. A missing file yields an empty
// history and no error (first run).
func LoadHistory(path string) ([]Snapshot, error) {
	doc, err := readHistoryDoc(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	history := make([]Snapshot, len(doc.Generations))
	for i, r := range doc.Generations {
		history[i] = r.Snapshot()
	}
	return history, nil
}

// HistoryFile persists finalized snapshots to a TOML file. Its Persist
// method is a PersistFunc.
type HistoryFile struct {
	Path      string
	Component string
}

// Persist appends r to the history file, creating it if needed.
func (h HistoryFile) Persist(r Record) error {
	doc, err := readHistoryDoc(h.Path)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &historyDoc{Version: historyFileVersion, Component: h.Component}
	}
	doc.Generations = append(doc.Generations, r)
	return writeHistoryDoc(h.Path, *doc)
}

// Load returns the snapshots stored in the history file.
func (h HistoryFile) Load() ([]Snapshot, error) {
	return LoadHistory(h.Path)
}

// readHistoryDoc reads and parses the raw history file.
// Returns nil, nil if the file does not exist.
func readHistoryDoc(path string) (*historyDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	var doc historyDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return &doc, nil
}

func writeHistoryDoc(path string, doc historyDoc) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp history file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming history file: %w", err)
	}
	return nil
}
