// Package history implements the bounded status-transition log attached to
// each guía. The log is persisted as a JSON array string in a single column;
// only the most recent MaxEntries transitions are kept.
package history

import (
	"encoding/json"

	"guiatrack/internal/models"
)

// MaxEntries caps the persisted log; appends drop the oldest entry first.
const MaxEntries = 3

// Parse decodes a persisted log. Malformed or empty input yields an empty
// log rather than an error, so the write path always makes progress.
func Parse(raw string) []models.HistoryEntry {
	if raw == "" {
		return nil
	}
	var entries []models.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	return entries
}

// Append adds e to the log and trims it to the last MaxEntries, oldest
// dropped first. The caller fills e.Timestamp.
func Append(entries []models.HistoryEntry, e models.HistoryEntry) []models.HistoryEntry {
	entries = append(entries, e)
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	return entries
}

// Serialize encodes the log back to its persisted textual form. A nil log
// serializes as "[]".
func Serialize(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "[]"
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
