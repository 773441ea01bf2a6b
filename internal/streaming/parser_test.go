package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteJSONStructure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"files":[{"name":"a"`, `{"files":[{"name":"a"}]}`},
		{`{"plan": "step one`, `{"plan": "step one"}`},
		{`{"a": {"b": ["c", "d`, `{"a": {"b": ["c", "d"]}}`},
		{`{"a": "quote \" inside`, `{"a": "quote \" inside"}`},
		{`{"a": "trailing backslash\`, `{"a": "trailing backslash\"}`},
		{`{}`, `{}`},
		{`{"a": "b"}`, `{"a": "b"}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompleteJSONStructure(tt.in), "input %q", tt.in)
	}
}

func TestDeterministicFileIDStable(t *testing.T) {
	a := DeterministicFileID("call_1", "revenue.yml", "metric")
	b := DeterministicFileID("call_1", "revenue.yml", "metric")
	c := DeterministicFileID("call_1", "revenue.yml", "dashboard")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestProcessFileChunkCreate(t *testing.T) {
	p := NewParser()
	p.Append("call_1", `{"files":[{"name":"rev","yml_content":"name: rev\nsql: SELECT`)

	ev := p.ProcessFileChunk("call_1", "metric")
	require.NotNil(t, ev)
	assert.Equal(t, "call_1", ev.ID)
	assert.Equal(t, "Creating metric files...", ev.Title)
	assert.Equal(t, "loading", ev.Status)
	require.Len(t, ev.FileIDs, 1)

	fileID := ev.FileIDs[0]
	assert.Equal(t, DeterministicFileID("call_1", "rev", "metric").String(), fileID)
	snap := ev.Files[fileID]
	assert.Equal(t, "rev", snap.FileName)
	assert.Equal(t, "name: rev\nsql: SELECT", snap.TextChunk)
}

func TestProcessFileChunkDeltasReconstruct(t *testing.T) {
	full := `{"files":[{"name":"rev","yml_content":"name: rev\nsql: SELECT 1 AS v\ntime_frame: daily\n"}]}`

	// Feed in several arbitrary splits; the concatenation of all deltas for
	// the file must equal the final yml_content.
	for _, size := range []int{1, 3, 7, 17, len(full)} {
		p := NewParser()
		var got strings.Builder
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			p.Append("call_x", full[i:end])
			if ev := p.ProcessFileChunk("call_x", "metric"); ev != nil {
				for _, id := range ev.FileIDs {
					got.WriteString(ev.Files[id].TextChunk)
				}
			}
		}
		assert.Equal(t, "name: rev\nsql: SELECT 1 AS v\ntime_frame: daily\n", got.String(), "chunk size %d", size)
	}
}

func TestProcessFileChunkModify(t *testing.T) {
	p := NewParser()
	p.Append("call_2", `{"files":[{"id":"0a1b2c3d-0000-0000-0000-000000000000","yml_content":"name: upd`)

	ev := p.ProcessFileChunk("call_2", "dashboard")
	require.NotNil(t, ev)
	assert.Equal(t, "Modifying dashboard files...", ev.Title)
	snap := ev.Files["0a1b2c3d-0000-0000-0000-000000000000"]
	assert.Equal(t, "0a1b2c3d...", snap.FileName)
}

func TestProcessFileChunkIDOnlyPayload(t *testing.T) {
	p := NewParser()
	p.Append("call_3", `{"id": "deadbeef-0000-0000-0000-000000000000"}`)

	ev := p.ProcessFileChunk("call_3", "metric")
	require.NotNil(t, ev)
	assert.Equal(t, "Modifying metric files...", ev.Title)
	assert.Equal(t, []string{"deadbeef-0000-0000-0000-000000000000"}, ev.FileIDs)
	assert.Equal(t, "deadbeef...", ev.Files["deadbeef-0000-0000-0000-000000000000"].FileName)
}

func TestProcessFileChunkMultipleFiles(t *testing.T) {
	p := NewParser()
	p.Append("call_4", `{"files":[{"name":"a","yml_content":"name: a\n"},{"name":"b","yml_content":"name: b`)

	ev := p.ProcessFileChunk("call_4", "metric")
	require.NotNil(t, ev)
	require.Len(t, ev.FileIDs, 2)
	assert.Equal(t, "name: a\n", ev.Files[ev.FileIDs[0]].TextChunk)
	assert.Equal(t, "name: b", ev.Files[ev.FileIDs[1]].TextChunk)
}

func TestProcessFileChunkMalformedReturnsNil(t *testing.T) {
	p := NewParser()
	p.Append("call_5", `{"fi`)
	assert.Nil(t, p.ProcessFileChunk("call_5", "metric"))

	// Garbage that balances but has no files.
	p.Append("call_5", `les": 3}`)
	assert.Nil(t, p.ProcessFileChunk("call_5", "metric"))
}

func TestProcessTextChunkPlan(t *testing.T) {
	p := NewParser()
	p.Append("call_6", `{"plan": "1. Search the catalog\n2. Bui`)

	text, ok := p.ProcessTextChunk("call_6", "plan")
	require.True(t, ok)
	assert.Equal(t, "1. Search the catalog\n2. Bui", text)

	p.Append("call_6", `ld the metric"}`)
	text, ok = p.ProcessTextChunk("call_6", "plan")
	require.True(t, ok)
	assert.Equal(t, "1. Search the catalog\n2. Build the metric", text)
}

func TestProcessTextChunkMissingKey(t *testing.T) {
	p := NewParser()
	p.Append("call_7", `{"other": "x"}`)
	_, ok := p.ProcessTextChunk("call_7", "final_response")
	assert.False(t, ok)
}

func TestParserTracksCallsIndependently(t *testing.T) {
	p := NewParser()
	p.Append("call_a", `{"files":[{"name":"a","yml_content":"aaa`)
	p.Append("call_b", `{"files":[{"name":"b","yml_content":"bbb`)

	evA := p.ProcessFileChunk("call_a", "metric")
	evB := p.ProcessFileChunk("call_b", "metric")
	require.NotNil(t, evA)
	require.NotNil(t, evB)
	assert.Equal(t, "aaa", evA.Files[evA.FileIDs[0]].TextChunk)
	assert.Equal(t, "bbb", evB.Files[evB.FileIDs[0]].TextChunk)
}

func TestDecodeEscapesInYmlContent(t *testing.T) {
	p := NewParser()
	p.Append("call_8", `{"files":[{"name":"a","yml_content":"line1\nline2\t\"quoted\""}]}`)

	ev := p.ProcessFileChunk("call_8", "metric")
	require.NotNil(t, ev)
	assert.Equal(t, "line1\nline2\t\"quoted\"", ev.Files[ev.FileIDs[0]].TextChunk)
}
