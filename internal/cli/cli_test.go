package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-trader/internal/models"
	"bracket-trader/internal/trading"
)

const testConfig = `[trading]
dry_run = true
broker = "paper"
sessions = ["00:00-23:59"]
timezone = "UTC"
close_positions_before_close = false
initial_paper_balance = 10000.0

[verification]
max_attempts = 2
poll_interval = "1ms"
timeout = "1s"

[pricing]
providers = ["static"]

[pricing.static]
AAPL = 99.0

[logging]
console = false
file = false
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0600))
	return dir
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestConfigValidate(t *testing.T) {
	dir := writeTestConfig(t)
	out, err := runCLI(t, dir, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	// A missing file produces a template and asks to be edited first.
	empty := t.TempDir()
	_, err = runCLI(t, empty, "config", "validate")
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(empty, "config.toml"))
}

func TestPlansLifecycle(t *testing.T) {
	dir := writeTestConfig(t)

	_, err := runCLI(t, dir, "plans", "add", "aapl", "--entry", "100", "--stop", "95")
	require.NoError(t, err)

	// Duplicate symbols are refused.
	_, err = runCLI(t, dir, "plans", "add", "AAPL", "--entry", "100", "--stop", "95")
	require.Error(t, err)

	out, err := runCLI(t, dir, "plans", "list", "--json")
	require.NoError(t, err)
	var plans []models.PlanEntry
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "AAPL", plans[0].Symbol)
	assert.Equal(t, models.PlanActive, plans[0].Status)
	assert.InDelta(t, 110.0, plans[0].ResolvedTakeProfit(), 1e-9)

	_, err = runCLI(t, dir, "plans", "expire", "AAPL")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "plans", "list", "--json")
	require.NoError(t, err)
	assert.Equal(t, "null", string(bytes.TrimSpace([]byte(out))))

	out, err = runCLI(t, dir, "plans", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "expired")

	_, err = runCLI(t, dir, "plans", "reset", "AAPL")
	require.NoError(t, err)

	_, err = runCLI(t, dir, "plans", "reset", "MSFT")
	require.Error(t, err)
}

func TestPlansAddRejectsInvalidPrices(t *testing.T) {
	dir := writeTestConfig(t)
	_, err := runCLI(t, dir, "plans", "add", "AAPL", "--entry", "100", "--stop", "105")
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "plans.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPlansValidateReportsRejections(t *testing.T) {
	dir := writeTestConfig(t)
	file := filepath.Join(t.TempDir(), "plans.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"version":1,"plans":[
		{"symbol":"AAPL","side":"Buy","entry_price":100,"stop_loss_price":95,"entry_method":"limit","status":"active"},
		{"symbol":"BAD","side":"Buy","entry_price":100,"stop_loss_price":105,"entry_method":"limit","status":"active"}
	]}`), 0600))

	out, err := runCLI(t, dir, "plans", "validate", file)
	require.Error(t, err)
	assert.Contains(t, out, "1 valid plan")
	assert.Contains(t, out, "BAD")
}

func TestRunOnceDryRun(t *testing.T) {
	sessions, err := trading.NewSessionManager("UTC", []string{"00:00-23:59"}, nil)
	require.NoError(t, err)
	if !sessions.IsOpen(time.Now()) {
		t.Skip("test session is closed at weekends")
	}

	dir := writeTestConfig(t)
	_, err = runCLI(t, dir, "plans", "add", "AAPL", "--entry", "100", "--stop", "95")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "run", "--once", "--json")
	require.NoError(t, err)

	var res trading.CycleResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 1, res.Executed)

	out, err = runCLI(t, dir, "plans", "list", "--all", "--json")
	require.NoError(t, err)
	var plans []models.PlanEntry
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, models.PlanExecuted, plans[0].Status)
	require.NotNil(t, plans[0].Execution)
	assert.True(t, plans[0].Execution.Simulated)
}

func TestRiskWithAccountValue(t *testing.T) {
	dir := writeTestConfig(t)
	out, err := runCLI(t, dir, "risk", "--account-value", "50000", "--json")
	require.NoError(t, err)

	var view riskView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 50000.0, view.AccountValue)
	require.Len(t, view.Windows, 3)
	for _, w := range view.Windows {
		assert.False(t, w.Breached)
	}
}
