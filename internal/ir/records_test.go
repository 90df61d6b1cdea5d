package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unmarshalForTest(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func TestStatsFileSync(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sf := NewStatsFile([]string{"fee", "spread"}, 10, now)
	sf.Mechanisms["fee"].Tries = 3

	changed := sf.Sync([]string{"fee", "inventory"})

	assert.True(t, changed)
	assert.Equal(t, []string{"fee", "inventory"}, sf.Names())
	assert.Equal(t, 3, sf.Mechanisms["fee"].Tries, "existing stats survive a resync")
	assert.False(t, sf.Sync([]string{"fee", "inventory"}), "resync with same names is a no-op")
}

func TestStatsFileTotalTries(t *testing.T) {
	sf := NewStatsFile([]string{"a", "b"}, 0, time.Time{})
	sf.Mechanisms["a"].Tries = 2
	sf.Mechanisms["b"].Tries = 5
	assert.Equal(t, 7, sf.TotalTries())
}

func TestChampionName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"pragma solidity ^0.8.0;\ncontract Strategy is AMMStrategyBase {\n}", "Strategy"},
		{"abstract contract Base {}\ncontract Other {}", "Base"},
		{"// contract Commented\nfunction f() {}", "f"},
		{"function fee(uint256 amount) returns (uint256) {}\ncontract Late {}", "fee"},
		{"// nothing declared here\nuint256 x;", "champion"},
		{"", "champion"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChampionName(tt.source))
	}
}

func TestLogEntryJSONShape(t *testing.T) {
	entry := LogEntry{
		Iteration: 7,
		Status:    StatusComplete,
		Mechanism: "fee",
		Valid:     true,
		Delta:     Float(0.25),
		Edge:      Float(10.25),
		Promoted:  true,
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "complete", raw["status"])
	assert.Equal(t, 0.25, raw["delta"])
	assert.NotContains(t, raw, "wildcard", "wildcard is omitted when false")
	assert.Equal(t, 0.25, entry.DeltaValue())
	assert.Equal(t, 0.0, LogEntry{}.DeltaValue())
}

func TestStatusFailed(t *testing.T) {
	assert.False(t, StatusComplete.Failed())
	assert.True(t, StatusInvalid.Failed())
	assert.True(t, StatusLLMFailed.Failed())
	assert.True(t, StatusCompileFailed.Failed())
}
