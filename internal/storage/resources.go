package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

const resourceColumns = `resource_id, org_id, name, full_domain, ssl, http, sso,
	block_access, email_whitelist_enabled, dns_authority_enabled,
	dns_authority_ttl, dns_authority_routing_policy, created_at`

func scanResource(row pgx.Row) (model.Resource, error) {
	var r model.Resource
	err := row.Scan(&r.ResourceID, &r.OrgID, &r.Name, &r.FullDomain, &r.SSL, &r.HTTP,
		&r.SSO, &r.BlockAccess, &r.EmailWhitelistEnabled, &r.DNSAuthorityEnabled,
		&r.DNSAuthorityTTL, &r.DNSAuthorityPolicy, &r.CreatedAt)
	return r, err
}

// GetResource returns one resource by ID.
func (s *Store) GetResource(ctx context.Context, resourceID int) (model.Resource, error) {
	r, err := scanResource(s.pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE resource_id = $1`, resourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Resource{}, ErrNotFound
	}
	if err != nil {
		return model.Resource{}, fmt.Errorf("storage: get resource %d: %w", resourceID, err)
	}
	return r, nil
}

// CreateResource inserts a new resource and returns its generated ID.
func (s *Store) CreateResource(ctx context.Context, r model.Resource) (int, error) {
	if r.DNSAuthorityTTL == 0 {
		r.DNSAuthorityTTL = model.DefaultDNSAuthorityTTL
	}
	if r.DNSAuthorityPolicy == "" {
		r.DNSAuthorityPolicy = model.RoutingFailover
	}
	var id int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO resources (org_id, name, full_domain, ssl, http, sso, block_access,
		 email_whitelist_enabled, dns_authority_enabled, dns_authority_ttl,
		 dns_authority_routing_policy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING resource_id`,
		r.OrgID, r.Name, r.FullDomain, r.SSL, r.HTTP, r.SSO, r.BlockAccess,
		r.EmailWhitelistEnabled, r.DNSAuthorityEnabled, r.DNSAuthorityTTL,
		r.DNSAuthorityPolicy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: create resource: %w", err)
	}
	return id, nil
}

// AllowedEmails returns the e-mail whitelist for a resource, sorted.
func (s *Store) AllowedEmails(ctx context.Context, resourceID int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email FROM resource_whitelist WHERE resource_id = $1 ORDER BY email`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: allowed emails for resource %d: %w", resourceID, err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("storage: scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// AddAllowedEmail adds an e-mail to a resource's whitelist.
func (s *Store) AddAllowedEmail(ctx context.Context, resourceID int, email string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resource_whitelist (resource_id, email) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		resourceID, email)
	if err != nil {
		return fmt.Errorf("storage: add allowed email: %w", err)
	}
	return nil
}

// DNSAuthorityResourcesForTargets collapses target IDs to the distinct set of
// resource IDs reachable through them, keeping only resources with DNS
// authority enabled. Used by the health ingestor to decide which zones to
// rebuild after a batch of status updates.
func (s *Store) DNSAuthorityResourcesForTargets(ctx context.Context, targetIDs []int) ([]int, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.resource_id
		 FROM targets t
		 JOIN resources r ON r.resource_id = t.resource_id
		 WHERE t.target_id = ANY($1) AND r.dns_authority_enabled
		 ORDER BY r.resource_id`,
		targetIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: resources for targets: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan resource id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DNSResourcesHostedOnSite returns the distinct DNS-authority resources
// with an enabled target on the given site, regardless of whether the site
// itself still qualifies as an authority. Used to tell agents to stop
// serving zones when a site's authority flag is withdrawn.
func (s *Store) DNSResourcesHostedOnSite(ctx context.Context, siteID int) ([]model.Resource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.resource_id, r.org_id, r.name, r.full_domain, r.ssl, r.http,
		   r.sso, r.block_access, r.email_whitelist_enabled, r.dns_authority_enabled,
		   r.dns_authority_ttl, r.dns_authority_routing_policy, r.created_at
		 FROM resources r
		 JOIN targets t ON t.resource_id = r.resource_id
		 WHERE t.site_id = $1 AND t.enabled AND r.dns_authority_enabled
		 ORDER BY r.resource_id`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: dns resources on site %d: %w", siteID, err)
	}
	defer rows.Close()

	var resources []model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// DNSAuthorityResourcesForSites returns the distinct resources with DNS
// authority enabled that have at least one enabled target on one of the given
// sites, where that site itself qualifies as an authority (flag set and a
// public IP present). Used to rebuild an agent's zone set at (re)connect.
func (s *Store) DNSAuthorityResourcesForSites(ctx context.Context, siteIDs []int) ([]model.Resource, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.resource_id, r.org_id, r.name, r.full_domain, r.ssl, r.http,
		   r.sso, r.block_access, r.email_whitelist_enabled, r.dns_authority_enabled,
		   r.dns_authority_ttl, r.dns_authority_routing_policy, r.created_at
		 FROM resources r
		 JOIN targets t ON t.resource_id = r.resource_id
		 JOIN sites st ON st.site_id = t.site_id
		 WHERE t.site_id = ANY($1)
		   AND t.enabled
		   AND r.dns_authority_enabled
		   AND st.dns_authority_enabled
		   AND st.public_ip IS NOT NULL
		 ORDER BY r.resource_id`,
		siteIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: dns resources for sites: %w", err)
	}
	defer rows.Close()

	var resources []model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}
