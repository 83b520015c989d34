package history

import (
	"fmt"
	"testing"

	"guiatrack/internal/models"

	"github.com/stretchr/testify/require"
)

func TestAppend_KeepsLastThreeInOrder(t *testing.T) {
	var log []models.HistoryEntry
	for i := 1; i <= 5; i++ {
		log = Append(log, models.HistoryEntry{
			Status:    fmt.Sprintf("Estado %d", i),
			Timestamp: fmt.Sprintf("2025-01-0%d 10:00:00", i),
		})
	}

	require.Len(t, log, MaxEntries)
	require.Equal(t, "Estado 3", log[0].Status)
	require.Equal(t, "Estado 4", log[1].Status)
	require.Equal(t, "Estado 5", log[2].Status)
}

func TestParse_Lenient(t *testing.T) {
	require.Nil(t, Parse(""))
	require.Nil(t, Parse("not json at all"))
	require.Nil(t, Parse(`{"status":"object, not array"}`))
	require.Empty(t, Parse("[]"))

	entries := Parse(`[{"status":"En tránsito","originCity":"QUITO","destinationCity":"GUAYAQUIL","timestamp":"2025-01-01 10:00:00"}]`)
	require.Len(t, entries, 1)
	require.Equal(t, "En tránsito", entries[0].Status)
	require.Equal(t, "QUITO", entries[0].OriginCity)
}

func TestAppendAfterMalformed_YieldsValidSingleEntryLog(t *testing.T) {
	log := Append(Parse("{broken"), models.HistoryEntry{Status: "Entregado", Timestamp: "2025-01-01 10:00:00"})
	require.Len(t, log, 1)

	roundtrip := Parse(Serialize(log))
	require.Len(t, roundtrip, 1)
	require.Equal(t, "Entregado", roundtrip[0].Status)
}

func TestSerialize_Empty(t *testing.T) {
	require.Equal(t, "[]", Serialize(nil))
}
