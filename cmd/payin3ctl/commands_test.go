package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpshiftstudio/payin3/internal/webhook"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanPreview(t *testing.T) {
	out, err := run(t, "", "plan", "100", "--start", "2026-03-01")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "33.33")
	assert.Contains(t, lines[1], "2026-03-01")
	assert.Contains(t, lines[2], "33.34")
	assert.Contains(t, lines[2], "2026-03-31")
	assert.Contains(t, lines[3], "33.33")
	assert.Contains(t, lines[3], "2026-04-30")
}

func TestPlanRejectsBadTotal(t *testing.T) {
	_, err := run(t, "", "plan", "abc")
	assert.Error(t, err)

	_, err = run(t, "", "plan", "0")
	assert.Error(t, err)
}

func TestSignFromStdin(t *testing.T) {
	body := `{"type":"charge.succeeded"}`
	out, err := run(t, body, "sign", "-", "--secret", "whsec_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.Sign("whsec_1", []byte(body)), strings.TrimSpace(out))
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	_, err := run(t, "{}", "sign", "-")
	assert.ErrorIs(t, err, webhook.ErrNoSecret)
}

func TestUninstallRequiresConfirmation(t *testing.T) {
	_, err := run(t, "", "uninstall")
	assert.ErrorContains(t, err, "--yes")
}

func TestTickAgainstInMemoryLedger(t *testing.T) {
	t.Setenv("PAYIN3_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WEBHOOK_SECRET", "")

	out, err := run(t, "", "tick")
	require.NoError(t, err)
	assert.Contains(t, out, "processed=0")
}
