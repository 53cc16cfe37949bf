package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-cli/internal/config"
	"github.com/sells-group/identity-cli/internal/identity"
	"github.com/sells-group/identity-cli/internal/merge"
	"github.com/sells-group/identity-cli/internal/monitoring"
	"github.com/sells-group/identity-cli/internal/reconcile"
)

func TestPhoneNormalize(t *testing.T) {
	cfg = &config.Config{Phone: config.PhoneConfig{DefaultCountryCode: "39"}}

	var buf bytes.Buffer
	phoneNormalizeCmd.SetOut(&buf)
	defer phoneNormalizeCmd.SetOut(nil)

	err := phoneNormalizeCmd.RunE(phoneNormalizeCmd, []string{"3491234567", "0039 349 123 4567", "12"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "3491234567\t+393491234567\n")
	assert.Contains(t, out, "0039 349 123 4567\t+393491234567\n")
	assert.Contains(t, out, "12\t-\n")
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	runs := []reconcile.RunEntry{
		{
			ID: "3f6c1a2e-0000-4000-8000-000000000001", Status: reconcile.StatusComplete,
			StartedAt: started, CompletedAt: &done,
			Summary: &reconcile.Summary{
				Link:   identity.LinkReport{Accounts: identity.KindReport{Linked: 3, Created: 2}},
				Merges: []merge.Report{{Entity: "accounts", Merged: 1}},
			},
		},
		{
			ID: "run-2", Status: reconcile.StatusFailed, StartedAt: started,
			Error: "reconcile: verify schema: missing tickets.customer_id, waitlist_entries.event_id",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "3f6c1a2e")
	assert.NotContains(t, out, "3f6c1a2e-0000")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "...")
}

func TestFormatGroups(t *testing.T) {
	tenant := "tenant-a"
	var buf bytes.Buffer
	formatGroups(&buf, []merge.Group{
		{Entity: "promoters", IdentityID: "9b2d7c1e-aaaa", TenantID: &tenant, Members: []string{"p1", "p2", "p3"}},
		{Entity: "customers", IdentityID: "i2", Members: []string{"c1", "c2"}},
	})
	out := buf.String()

	assert.Contains(t, out, "promoters")
	assert.Contains(t, out, "tenant-a")
	assert.Contains(t, out, "9b2d7c1e")
	assert.Contains(t, out, "customers")
}

func TestNewEngine_Wires(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := &config.Config{
		Phone:  config.PhoneConfig{DefaultCountryCode: "39"},
		Linker: config.LinkerConfig{MatchPriority: "email", TxTimeout: time.Second},
		Merge:  config.MergeConfig{Concurrency: 2, TxTimeout: time.Second, RetryAttempts: 2},
		Run:    config.RunConfig{StaleAfter: time.Hour},
	}
	assert.NotNil(t, newEngine(mock, c))
}

func TestFormatAlerts(t *testing.T) {
	alerts := []monitoring.Alert{
		{Type: monitoring.AlertRunAbandoned, Severity: "high", Message: "1 reconcile run(s) abandoned without completing in last 24h"},
		{Type: monitoring.AlertNoSuccessfulRun, Severity: "medium", Message: "No reconcile run completed in last 24h (last complete: never)"},
	}

	var buf bytes.Buffer
	formatAlerts(&buf, alerts)
	out := buf.String()

	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "run_abandoned")
	assert.Contains(t, out, "no_successful_run")
	assert.Contains(t, out, "last complete: never")
}

func TestNewChecker_ReadsRunLog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg = &config.Config{Monitoring: config.MonitoringConfig{LookbackWindowHours: 24, FailureRateThreshold: 0.25}}

	mock.ExpectQuery(`SELECT id, status, started_at, completed_at, error, metrics`).
		WithArgs(1000).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "started_at", "completed_at", "error", "metrics"}))

	alerts, err := newChecker(mock).Check(t.Context())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, monitoring.AlertNoSuccessfulRun, alerts[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
