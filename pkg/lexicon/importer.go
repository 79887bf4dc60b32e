package lexicon

import (
	"log/slog"

	"github.com/japaniel/lexicon/pkg/db"
)

// Importer writes entries into the record store.
type Importer struct {
	conn   db.DBExecutor
	logger *slog.Logger
}

// ImportResult counts what an import did.
type ImportResult struct {
	// Stored counts entries created or matched by source.
	Stored  int
	Skipped int
	IDs     []int64
}

// NewImporter creates an importer writing through conn.
func NewImporter(conn db.DBExecutor, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{conn: conn, logger: logger}
}

// Add stores one entry. Entries with a source are matched on it, so
// re-importing the same page refreshes the record instead of duplicating it.
func (im *Importer) Add(e Entry) (int64, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	if e.Source != "" {
		return db.UpsertRecordBySource(im.conn, e.Title, e.Body, e.Source)
	}
	return db.CreateRecord(im.conn, e.Title, e.Body, "")
}

// Import stores every valid entry. Invalid entries are logged and skipped;
// a store error stops the import.
func (im *Importer) Import(entries []Entry) (ImportResult, error) {
	var res ImportResult
	for i, e := range entries {
		if err := e.validate(); err != nil {
			im.logger.Warn("Skipping entry", "index", i, "title", e.Title, "error", err)
			res.Skipped++
			continue
		}
		id, err := im.Add(e)
		if err != nil {
			return res, err
		}
		res.Stored++
		res.IDs = append(res.IDs, id)
	}
	im.logger.Info("Import complete", "stored", res.Stored, "skipped", res.Skipped)
	return res, nil
}
