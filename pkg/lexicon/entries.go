// Package lexicon seeds the canonical record store: it loads record files
// and fetches web glossary pages into records. It sits outside the proposal
// lifecycle and never touches proposals or the ledger.
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entry is one record as it appears in an import file.
type Entry struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Source string `json:"source,omitempty"`
}

// LoadEntries reads a JSON file holding either {"records": [...]} or a bare
// array of entries.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Records []Entry `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Records == nil {
			return []Entry{}, nil
		}
		return wrapped.Records, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s as object or array: %w", path, err)
	}
	return entries, nil
}

// validate reports why an entry cannot become a record.
func (e Entry) validate() error {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("empty body")
	}
	return nil
}
