package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertRunAbandoned    AlertType = "run_abandoned"
	AlertNoSuccessfulRun AlertType = "no_successful_run"
	AlertRecordFailures  AlertType = "record_failures"
)

// minFinishedRuns is the number of finished runs required before the
// failure rate is judged.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.RunsComplete + snap.RunsFailed + snap.RunsAbandoned
	if finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Reconcile failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed+snap.RunsAbandoned, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"abandoned":    snap.RunsAbandoned,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.RunsAbandoned > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunAbandoned,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d reconcile run(s) abandoned without completing in last %dh",
				snap.RunsAbandoned, snap.LookbackHours,
			),
			Details: map[string]any{
				"abandoned":  snap.RunsAbandoned,
				"runs_total": snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	window := time.Duration(snap.LookbackHours) * time.Hour
	if snap.LastCompleteAt == nil || now.Sub(*snap.LastCompleteAt) > window {
		last := "never"
		if snap.LastCompleteAt != nil {
			last = snap.LastCompleteAt.Format(time.RFC3339)
		}
		alerts = append(alerts, Alert{
			Type:     AlertNoSuccessfulRun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"No reconcile run completed in last %dh (last complete: %s)",
				snap.LookbackHours, last,
			),
			Details: map[string]any{
				"last_complete": last,
				"runs_running":  snap.RunsRunning,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RecordFailureThreshold > 0 && snap.LastFailures >= a.cfg.RecordFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Last reconcile run %s left %d record(s) unlinked or unmerged",
				snap.LastRunID, snap.LastFailures,
			),
			Details: map[string]any{
				"run_id":    snap.LastRunID,
				"failures":  snap.LastFailures,
				"ambiguous": snap.LastAmbiguous,
				"threshold": a.cfg.RecordFailureThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
