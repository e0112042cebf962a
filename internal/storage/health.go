package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

// GetTargetHealth returns the health row for one target.
func (s *Store) GetTargetHealth(ctx context.Context, targetID int) (model.TargetHealth, error) {
	var h model.TargetHealth
	err := s.pool.QueryRow(ctx,
		`SELECT target_id, hc_enabled, hc_health, hc_path, hc_scheme, hc_mode,
		   hc_port, hc_interval, hc_timeout, hc_headers, hc_method
		 FROM target_health WHERE target_id = $1`, targetID,
	).Scan(&h.TargetID, &h.HCEnabled, &h.HCHealth, &h.HCPath, &h.HCScheme,
		&h.HCMode, &h.HCPort, &h.HCInterval, &h.HCTimeout, &h.HCHeaders, &h.HCMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TargetHealth{}, ErrNotFound
	}
	if err != nil {
		return model.TargetHealth{}, fmt.Errorf("storage: get target health %d: %w", targetID, err)
	}
	return h, nil
}

// UpdateTargetHealthStatus sets the observed health of one target.
// Returns ErrNotFound if the target has no health row. Health reports from
// several newts can land on rows of the same resource at once, so the
// update retries on serialization conflicts.
func (s *Store) UpdateTargetHealthStatus(ctx context.Context, targetID int, status model.HealthState) error {
	var affected int64
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE target_health SET hc_health = $2 WHERE target_id = $1`,
			targetID, status,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: update target health %d: %w", targetID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
