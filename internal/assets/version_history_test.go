package assets

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/errs"
)

func TestVersionHistoryAddAndLatest(t *testing.T) {
	now := time.Now().UTC()
	h := NewVersionHistory("v1", now)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest.VersionNumber)
	assert.Equal(t, "v1", latest.Content)

	assert.Equal(t, 2, h.AddVersion("v2", now))
	assert.Equal(t, 3, h.AddVersion("v3", now))

	latest, _ = h.Latest()
	assert.Equal(t, 3, latest.VersionNumber)
	assert.Equal(t, "v3", latest.Content)

	v1, err := h.Version(1)
	require.NoError(t, err)
	assert.Equal(t, "v1", v1.Content)
}

func TestVersionHistoryNotFound(t *testing.T) {
	h := NewVersionHistory("v1", time.Now())
	_, err := h.Version(9)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindVersionNotFound))
}

func TestVersionHistorySparseNumbers(t *testing.T) {
	now := time.Now().UTC()
	h := VersionHistory[string]{
		1: {VersionNumber: 1, Content: "a", UpdatedAt: now},
		5: {VersionNumber: 5, Content: "b", UpdatedAt: now},
	}
	assert.Equal(t, 6, h.AddVersion("c", now))
	latest, _ := h.Latest()
	assert.Equal(t, "c", latest.Content)
}

func TestVersionHistoryRestoreSemantics(t *testing.T) {
	now := time.Now().UTC()
	h := NewVersionHistory("SELECT 1 AS v", now)
	h.AddVersion("SELECT 2 AS v", now)

	// Restore of version 1 appends a new version with the old content.
	restored, err := h.Version(1)
	require.NoError(t, err)
	n := h.AddVersion(restored.Content, now)

	assert.Equal(t, 3, n)
	latest, _ := h.Latest()
	assert.Equal(t, "SELECT 1 AS v", latest.Content)
	v1, _ := h.Version(1)
	assert.Equal(t, v1.Content, latest.Content)
}

func TestVersionHistoryJSONKeys(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewVersionHistory("x", now)
	h.AddVersion("y", now)

	raw, err := json.Marshal(h)
	require.NoError(t, err)
	var m map[string]Version[string]
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "1")
	assert.Contains(t, m, "2")

	var back VersionHistory[string]
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, h, back)
}
