package history

import (
	"fmt"
	"testing"
	"time"

	"ozzus/client-aeza/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func rec(id string, minutes int) domain.CheckRecord {
	return domain.CheckRecord{
		ID:        id,
		Target:    "example.com",
		Checks:    []domain.CheckType{domain.CheckTypePing},
		Status:    domain.StatusCompleted,
		CreatedAt: domain.NewTimestamp(base.Add(time.Duration(minutes) * time.Minute)),
	}
}

func ids(records []domain.CheckRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func assertNewestFirst(t *testing.T, records []domain.CheckRecord) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].SortTime().After(records[i-1].SortTime()),
			"record %d (%s) is newer than record %d (%s)", i, records[i].ID, i-1, records[i-1].ID)
	}
}

func TestMergeServerWinsForSharedIDs(t *testing.T) {
	serverCopy := rec("a", 1)
	serverCopy.Status = domain.StatusCompleted
	serverCopy.Results = []domain.AgentResult{{AgentID: "msk-1", Status: domain.AgentStatusCompleted}}

	localCopy := rec("a", 1)
	localCopy.Status = domain.StatusRunning
	localCopy.Target = "stale.example.com"
	localCopy.UpdatedAt = domain.NewTimestamp(base.Add(time.Hour))

	merged := Merge([]domain.CheckRecord{serverCopy}, []domain.CheckRecord{localCopy})

	require.Len(t, merged, 1)
	assert.Equal(t, serverCopy, merged[0])
}

func TestMergeAppendsLocalOnlyOnce(t *testing.T) {
	server := []domain.CheckRecord{rec("a", 1), rec("b", 3)}
	local := []domain.CheckRecord{rec("c", 2), rec("a", 1), rec("c", 2)}

	merged := Merge(server, local)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(merged))
	assertNewestFirst(t, merged)
	assert.Equal(t, []string{"b", "c", "a"}, ids(merged))
}

func TestMergeFallsBackToNumericTimestamp(t *testing.T) {
	legacy := domain.CheckRecord{ID: "legacy", Millis: base.Add(10 * time.Minute).UnixMilli()}
	noTime := domain.CheckRecord{ID: "no-time"}

	merged := Merge([]domain.CheckRecord{rec("a", 5)}, []domain.CheckRecord{noTime, legacy})

	assert.Equal(t, []string{"legacy", "a", "no-time"}, ids(merged))
}

func TestMergeIsIdempotent(t *testing.T) {
	server := []domain.CheckRecord{rec("a", 4), rec("b", 1)}
	local := []domain.CheckRecord{rec("c", 3), rec("d", 7), rec("b", 1)}

	once := Merge(server, local)
	twice := Merge(once, nil)

	assert.Equal(t, once, twice)
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))

	local := []domain.CheckRecord{rec("x", 0)}
	assert.Equal(t, local, Merge(nil, local))
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	server := []domain.CheckRecord{rec("a", 1)}
	merged := Merge(server, nil)

	merged[0].Checks[0] = domain.CheckTypeDNS

	assert.Equal(t, domain.CheckTypePing, server[0].Checks[0])
}

func TestTruncate(t *testing.T) {
	var records []domain.CheckRecord
	for i := 0; i < 60; i++ {
		records = append(records, rec(fmt.Sprintf("r%d", i), -i))
	}

	assert.Len(t, truncate(records, 50), 50)
	assert.Len(t, truncate(records[:10], 50), 10)
}
