package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"config-checker/internal/config"
	"config-checker/internal/model"
	"config-checker/internal/pipeline"
)

func TestPrintSummary(t *testing.T) {
	var outcomes []model.Outcome
	for i := 0; i < 12; i++ {
		outcomes = append(outcomes, model.Outcome{
			Candidate: model.Candidate{Name: strings.Repeat("n", 50), Settings: model.VMess{}},
			OK:        true,
			Latency:   time.Duration(i+1) * time.Millisecond,
		})
	}
	res := &pipeline.Result{
		Total:         30,
		Reachable:     make([]model.Candidate, 12),
		Outcomes:      outcomes,
		ProbeDuration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	printSummary(&buf, res, "result.txt", 2*time.Second)
	out := buf.String()

	assert.Contains(t, out, "Total configs tested: 30\n")
	assert.Contains(t, out, "Probe passed: 12\n")
	assert.Contains(t, out, "Phase 1 time: 1.5s\n")
	assert.Contains(t, out, "  1. [VMESS] "+strings.Repeat("n", 40)+" - 1ms\n")
	assert.Contains(t, out, "  10. [VMESS]")
	assert.NotContains(t, out, "  11. ")
}

func TestRun_NoCandidatesWritesEmptyReport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("# nothing usable\nnot-a-link\n"), 0644))

	cfg := &config.Config{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "result.txt"),
		EnginePath: filepath.Join(dir, "no-such-engine"),
	}
	require.NoError(t, run(context.Background(), cfg))

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Working configs: 0\n")
}

func TestRun_MissingEngine(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("trojan://pw@127.0.0.1:443#t\n"), 0644))

	cfg := &config.Config{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "result.txt"),
		EnginePath: filepath.Join(dir, "no-such-engine"),
	}
	err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine binary not found")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab", truncate("ab", 40))
	assert.Equal(t, "日本", truncate("日本語", 2))
}
