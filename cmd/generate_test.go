package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qaforge/internal/estimate"
	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/pipeline"
)

func TestBuildSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nSome text."), 0o600))

	sources, err := buildSources([]string{path}, []string{" https://example.com/faq "}, "pasted")
	require.NoError(t, err)
	require.Len(t, sources, 3)

	assert.Equal(t, ingest.KindFile, sources[0].Kind)
	assert.Equal(t, "notes.md", sources[0].Name)
	assert.Equal(t, "# Notes\n\nSome text.", string(sources[0].Data))
	assert.Equal(t, ingest.KindURL, sources[1].Kind)
	assert.Equal(t, "https://example.com/faq", sources[1].Name)
	assert.Equal(t, ingest.KindText, sources[2].Kind)
	assert.Equal(t, "pasted", sources[2].Text)
}

func TestBuildSources_Errors(t *testing.T) {
	_, err := buildSources(nil, nil, "")
	assert.Error(t, err)

	_, err = buildSources([]string{filepath.Join(t.TempDir(), "missing.pdf")}, nil, "")
	assert.Error(t, err)
}

func sampleDataset() *model.Result {
	return &model.Result{
		RunID: "run-1",
		Pairs: []model.QAPair{
			{Question: "When are invoices due?", Answer: "In thirty days.", IsCorrect: true, Confidence: 0.9, Provenance: model.ProvenanceOriginal},
			{Question: "Are refunds instant?", Answer: "Yes.", IsCorrect: false, Confidence: 0.2, Provenance: model.ProvenanceOriginal},
			{Question: "Who approves credits?", Answer: "Finance.", IsCorrect: true, Confidence: 0.8, Provenance: model.ProvenanceSynthetic,
				Validation: model.ValidationValidated, GapID: "gap-1"},
		},
		Stats: model.Stats{Total: 3, Correct: 2, Incorrect: 1},
	}
}

func TestWriteResult_JSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleDataset(), "jsonl"))

	var lines []datasetLine
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var l datasetLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "When are invoices due?", lines[0].Question)
	assert.False(t, lines[1].IsCorrect)
	assert.Equal(t, "synthetic", lines[2].Provenance)
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, sampleDataset(), "json"))

	var got model.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Len(t, got.Pairs, 3)
	assert.Equal(t, "gap-1", got.Pairs[2].GapID)
}

func TestConsoleProgress(t *testing.T) {
	var buf bytes.Buffer
	obs := consoleProgress(&buf)
	obs.OnProgress(pipeline.Progress{
		Percent:  33,
		Message:  "Identifying themes",
		Estimate: estimate.Estimate{Remaining: 42*time.Second + 400*time.Millisecond},
	})
	assert.Equal(t, "[ 33%] Identifying themes (about 42s left)\n", buf.String())
}

func TestPrintSummary(t *testing.T) {
	res := sampleDataset()
	res.GapFillingEnabled = true
	res.Stats.GapsIdentified = 2
	res.Stats.GapsAddressed = 1
	res.Warnings = []string{"synthetic_generation: 1 of 2 gaps failed: gap-2"}

	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Generated 3 pairs (2 correct, 1 incorrect)")
	assert.Contains(t, out, "2 identified, 1 addressed")
	assert.True(t, strings.Contains(out, "warning: synthetic_generation"))
}
