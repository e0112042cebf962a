package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

// ResourceTarget is one target of a resource joined with its site and
// health row. This is the row shape the DNS-authority view builder consumes.
type ResourceTarget struct {
	Target model.Target
	Site   model.Site
	Health model.TargetHealth
}

// ListResourceTargets returns every target of a resource with its site and
// health, ordered by target ID so view construction is deterministic.
func (s *Store) ListResourceTargets(ctx context.Context, resourceID int) ([]ResourceTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.target_id, t.resource_id, t.site_id, t.ip, t.port, t.method,
		   t.enabled, t.priority, t.ssl,
		   st.site_id, st.org_id, st.nice_id, st.name, st.type, st.public_ip,
		   st.server_public_ip, st.docker_socket_enabled, st.dns_authority_enabled,
		   st.exit_node_id, st.created_at,
		   h.target_id, h.hc_enabled, h.hc_health, h.hc_path, h.hc_scheme, h.hc_mode,
		   h.hc_port, h.hc_interval, h.hc_timeout, h.hc_headers, h.hc_method
		 FROM targets t
		 JOIN sites st ON st.site_id = t.site_id
		 JOIN target_health h ON h.target_id = t.target_id
		 WHERE t.resource_id = $1
		 ORDER BY t.target_id`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list targets for resource %d: %w", resourceID, err)
	}
	defer rows.Close()

	var out []ResourceTarget
	for rows.Next() {
		var rt ResourceTarget
		if err := rows.Scan(
			&rt.Target.TargetID, &rt.Target.ResourceID, &rt.Target.SiteID,
			&rt.Target.IP, &rt.Target.Port, &rt.Target.Method, &rt.Target.Enabled,
			&rt.Target.Priority, &rt.Target.SSL,
			&rt.Site.SiteID, &rt.Site.OrgID, &rt.Site.NiceID, &rt.Site.Name,
			&rt.Site.Type, &rt.Site.PublicIP, &rt.Site.ServerPublicIP,
			&rt.Site.DockerSocketEnabled, &rt.Site.DNSAuthorityEnabled,
			&rt.Site.ExitNodeID, &rt.Site.CreatedAt,
			&rt.Health.TargetID, &rt.Health.HCEnabled, &rt.Health.HCHealth,
			&rt.Health.HCPath, &rt.Health.HCScheme, &rt.Health.HCMode,
			&rt.Health.HCPort, &rt.Health.HCInterval, &rt.Health.HCTimeout,
			&rt.Health.HCHeaders, &rt.Health.HCMethod,
		); err != nil {
			return nil, fmt.Errorf("storage: scan resource target: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// CreateTarget inserts a target and its health row in one transaction and
// returns the generated target ID. The health row starts in state "unknown".
// The transaction retries on deadlock or serialization failure.
func (s *Store) CreateTarget(ctx context.Context, t model.Target, hcEnabled bool) (int, error) {
	if t.Priority == 0 {
		t.Priority = model.DefaultTargetPriority
	}

	var id int
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return s.createTargetTx(ctx, t, hcEnabled, &id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) createTargetTx(ctx context.Context, t model.Target, hcEnabled bool, id *int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create target: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := tx.QueryRow(ctx,
		`INSERT INTO targets (resource_id, site_id, ip, port, method, enabled, priority, ssl)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING target_id`,
		t.ResourceID, t.SiteID, t.IP, t.Port, t.Method, t.Enabled, t.Priority, t.SSL,
	).Scan(id); err != nil {
		return fmt.Errorf("storage: create target: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO target_health (target_id, hc_enabled) VALUES ($1, $2)`,
		*id, hcEnabled,
	); err != nil {
		return fmt.Errorf("storage: create target health: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit create target: %w", err)
	}
	return nil
}

// GetTarget returns one target by ID.
func (s *Store) GetTarget(ctx context.Context, targetID int) (model.Target, error) {
	var t model.Target
	err := s.pool.QueryRow(ctx,
		`SELECT target_id, resource_id, site_id, ip, port, method, enabled, priority, ssl
		 FROM targets WHERE target_id = $1`, targetID,
	).Scan(&t.TargetID, &t.ResourceID, &t.SiteID, &t.IP, &t.Port, &t.Method,
		&t.Enabled, &t.Priority, &t.SSL)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Target{}, ErrNotFound
	}
	if err != nil {
		return model.Target{}, fmt.Errorf("storage: get target %d: %w", targetID, err)
	}
	return t, nil
}

// SitesForResource returns the distinct site IDs hosting an enabled target
// of the resource, ascending.
func (s *Store) SitesForResource(ctx context.Context, resourceID int) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT site_id FROM targets
		 WHERE resource_id = $1 AND enabled
		 ORDER BY site_id`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: sites for resource %d: %w", resourceID, err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AuthProxyTarget is an enabled target on a site joined with its resource,
// for resources that require the auth proxy (DNS authority plus at least one
// of SSO, blocked access, or an e-mail whitelist).
type AuthProxyTarget struct {
	Target   model.Target
	Resource model.Resource
}

// AuthProxyTargetsForSite returns the auth-proxy relevant targets of a site,
// ordered by resource ID.
func (s *Store) AuthProxyTargetsForSite(ctx context.Context, siteID int) ([]AuthProxyTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.target_id, t.resource_id, t.site_id, t.ip, t.port, t.method,
		   t.enabled, t.priority, t.ssl,
		   r.resource_id, r.org_id, r.name, r.full_domain, r.ssl, r.http, r.sso,
		   r.block_access, r.email_whitelist_enabled, r.dns_authority_enabled,
		   r.dns_authority_ttl, r.dns_authority_routing_policy, r.created_at
		 FROM targets t
		 JOIN resources r ON r.resource_id = t.resource_id
		 WHERE t.site_id = $1
		   AND t.enabled
		   AND r.dns_authority_enabled
		   AND (r.sso OR r.block_access OR r.email_whitelist_enabled)
		 ORDER BY r.resource_id, t.target_id`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: auth proxy targets for site %d: %w", siteID, err)
	}
	defer rows.Close()

	var out []AuthProxyTarget
	for rows.Next() {
		var at AuthProxyTarget
		if err := rows.Scan(
			&at.Target.TargetID, &at.Target.ResourceID, &at.Target.SiteID,
			&at.Target.IP, &at.Target.Port, &at.Target.Method, &at.Target.Enabled,
			&at.Target.Priority, &at.Target.SSL,
			&at.Resource.ResourceID, &at.Resource.OrgID, &at.Resource.Name,
			&at.Resource.FullDomain, &at.Resource.SSL, &at.Resource.HTTP,
			&at.Resource.SSO, &at.Resource.BlockAccess,
			&at.Resource.EmailWhitelistEnabled, &at.Resource.DNSAuthorityEnabled,
			&at.Resource.DNSAuthorityTTL, &at.Resource.DNSAuthorityPolicy,
			&at.Resource.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan auth proxy target: %w", err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}
