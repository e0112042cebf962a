// Package healthingest receives periodic per-target health reports from
// newt agents, validates tenancy, persists the observed status, and
// triggers zone rebuilds for the affected resources.
package healthingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
)

// Store is the slice of the storage layer the ingestor uses.
type Store interface {
	GetNewt(ctx context.Context, newtID string) (model.Newt, error)
	GetTarget(ctx context.Context, targetID int) (model.Target, error)
	UpdateTargetHealthStatus(ctx context.Context, targetID int, status model.HealthState) error
}

// Reconciler is notified with the accepted target IDs after each batch.
type Reconciler interface {
	OnHealthCheckUpdate(ctx context.Context, targetIDs []int)
}

// TargetReport is one target's entry in a healthcheck/status payload.
type TargetReport struct {
	Status     model.HealthState `json:"status"`
	LastCheck  string            `json:"lastCheck"`
	CheckCount int               `json:"checkCount"`
	LastError  *string           `json:"lastError,omitempty"`
	Config     json.RawMessage   `json:"config"`
}

// StatusReport is the healthcheck/status payload, keyed by target ID.
type StatusReport struct {
	Targets map[string]TargetReport `json:"targets"`
}

// Ingestor handles inbound healthcheck/status messages.
type Ingestor struct {
	store  Store
	dns    Reconciler
	logger *slog.Logger

	accepted otelmetric.Int64Counter
	rejected otelmetric.Int64Counter
}

// New creates an ingestor.
func New(store Store, dns Reconciler, logger *slog.Logger) *Ingestor {
	meter := otel.GetMeterProvider().Meter("warren/healthingest")
	accepted, _ := meter.Int64Counter("health.reports.accepted")
	rejected, _ := meter.Int64Counter("health.reports.rejected")
	return &Ingestor{store: store, dns: dns, logger: logger, accepted: accepted, rejected: rejected}
}

// Register binds the ingestor to the bus.
func (i *Ingestor) Register(b *bus.Bus) {
	b.Register(bus.TypeHealthcheckStatus, i.Handle)
}

// Handle processes one healthcheck/status message. Rows are processed
// independently: a bad row is counted and skipped, never aborting the
// batch, and no failure propagates back to the agent.
func (i *Ingestor) Handle(ctx context.Context, kind model.AgentKind, agentID string, payload json.RawMessage) error {
	if kind != model.KindNewt {
		return fmt.Errorf("healthingest: reports accepted from newts only, got %s", kind)
	}

	newt, err := i.store.GetNewt(ctx, agentID)
	if err != nil {
		return fmt.Errorf("healthingest: load reporter %s: %w", agentID, err)
	}
	if newt.SiteID == nil {
		return fmt.Errorf("healthingest: reporter %s has no site", agentID)
	}

	var report StatusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("healthingest: decode report: %w", err)
	}

	var updated []int
	var errCount int
	for rawID, entry := range report.Targets {
		targetID, err := strconv.Atoi(rawID)
		if err != nil {
			errCount++
			continue
		}
		if !entry.Status.Valid() {
			errCount++
			continue
		}

		// Tenancy check: an agent may only mutate rows attached to its own
		// site. A missing or foreign target is rejected so a compromised
		// agent cannot poison another site's health.
		target, err := i.store.GetTarget(ctx, targetID)
		if err != nil || target.SiteID != *newt.SiteID {
			errCount++
			continue
		}

		if err := i.store.UpdateTargetHealthStatus(ctx, targetID, entry.Status); err != nil {
			errCount++
			continue
		}
		updated = append(updated, targetID)
	}

	i.accepted.Add(ctx, int64(len(updated)))
	i.rejected.Add(ctx, int64(errCount))
	if errCount > 0 {
		i.logger.Warn("healthingest: rejected rows in report",
			"newt_id", agentID, "accepted", len(updated), "rejected", errCount)
	}

	if len(updated) > 0 {
		i.dns.OnHealthCheckUpdate(ctx, updated)
	}
	return nil
}
