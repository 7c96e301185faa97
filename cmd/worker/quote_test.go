package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophabitat/finance-engine/config"
)

var fixture = filepath.Join("..", "..", "internal", "finance", "repository", "testdata", "project.yaml")

func testConfig() *config.Config {
	return &config.Config{Formula: config.FormulaConfig{
		IndexationRate:          2,
		CarryingCostRecoveryPct: 10,
		AverageInterestRate:     4.5,
		ReservesSharePct:        30,
		MaxPortageLots:          3,
	}}
}

func TestRunQuote(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runQuote(testConfig(), []string{fixture, "chloe", "2024-03-01"}, &buf))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "chloe", out["participant_id"])
	assert.Equal(t, "collective", out["origin"])
	assert.Contains(t, out, "newcomer")
	assert.Contains(t, out, "redistribution")
	assert.NotContains(t, out, "resale")
}

func TestRunQuote_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, runQuote(testConfig(), []string{fixture}, &buf))
	assert.Error(t, runQuote(testConfig(), []string{fixture, "chloe", "01/03/2024"}, &buf))
	assert.Error(t, runQuote(testConfig(), []string{fixture, "nobody"}, &buf))
	assert.Error(t, runQuote(testConfig(), []string{"missing.yaml", "chloe"}, &buf))
	assert.Empty(t, buf.String())
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Error(t, run(t.Context(), testConfig(), "analyze", nil))
}
