package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

const siteColumns = `site_id, org_id, nice_id, name, type, public_ip, server_public_ip,
	docker_socket_enabled, dns_authority_enabled, exit_node_id, created_at`

func scanSite(row pgx.Row) (model.Site, error) {
	var s model.Site
	err := row.Scan(&s.SiteID, &s.OrgID, &s.NiceID, &s.Name, &s.Type, &s.PublicIP,
		&s.ServerPublicIP, &s.DockerSocketEnabled, &s.DNSAuthorityEnabled,
		&s.ExitNodeID, &s.CreatedAt)
	return s, err
}

// GetSite returns one site by ID.
func (s *Store) GetSite(ctx context.Context, siteID int) (model.Site, error) {
	site, err := scanSite(s.pool.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE site_id = $1`, siteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Site{}, ErrNotFound
	}
	if err != nil {
		return model.Site{}, fmt.Errorf("storage: get site %d: %w", siteID, err)
	}
	return site, nil
}

// GetOrg returns one org by ID.
func (s *Store) GetOrg(ctx context.Context, orgID string) (model.Org, error) {
	var org model.Org
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, name FROM orgs WHERE org_id = $1`, orgID,
	).Scan(&org.OrgID, &org.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Org{}, ErrNotFound
	}
	if err != nil {
		return model.Org{}, fmt.Errorf("storage: get org %s: %w", orgID, err)
	}
	return org, nil
}

// CreateOrg inserts a new org.
func (s *Store) CreateOrg(ctx context.Context, org model.Org) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orgs (org_id, name) VALUES ($1, $2)`, org.OrgID, org.Name)
	if err != nil {
		return fmt.Errorf("storage: create org: %w", err)
	}
	return nil
}

// CreateSite inserts a new site and returns its generated ID.
func (s *Store) CreateSite(ctx context.Context, site model.Site) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sites (org_id, nice_id, name, type, public_ip, server_public_ip,
		 docker_socket_enabled, dns_authority_enabled, exit_node_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING site_id`,
		site.OrgID, site.NiceID, site.Name, site.Type, site.PublicIP,
		site.ServerPublicIP, site.DockerSocketEnabled, site.DNSAuthorityEnabled,
		site.ExitNodeID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: create site: %w", err)
	}
	return id, nil
}

// CreateExitNode inserts an exit node and returns its generated ID.
func (s *Store) CreateExitNode(ctx context.Context, node model.ExitNode) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO exit_nodes (public_key, endpoint) VALUES ($1, $2)
		 RETURNING exit_node_id`,
		node.PublicKey, node.Endpoint,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: create exit node: %w", err)
	}
	return id, nil
}

// ExitNodeSites is an exit node together with the sites attached to it.
type ExitNodeSites struct {
	model.ExitNode
	SiteIDs []int
}

// ExitNodesForSites returns the distinct exit nodes referenced by the given
// sites, each with the subset of siteIDs attached to it. Sites without an
// exit node are skipped.
func (s *Store) ExitNodesForSites(ctx context.Context, siteIDs []int) ([]ExitNodeSites, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT e.exit_node_id, e.public_key, e.endpoint, st.site_id
		 FROM exit_nodes e
		 JOIN sites st ON st.exit_node_id = e.exit_node_id
		 WHERE st.site_id = ANY($1)
		 ORDER BY e.exit_node_id, st.site_id`,
		siteIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: exit nodes for sites: %w", err)
	}
	defer rows.Close()

	var out []ExitNodeSites
	for rows.Next() {
		var node model.ExitNode
		var siteID int
		if err := rows.Scan(&node.ExitNodeID, &node.PublicKey, &node.Endpoint, &siteID); err != nil {
			return nil, fmt.Errorf("storage: scan exit node: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].ExitNodeID == node.ExitNodeID {
			out[n-1].SiteIDs = append(out[n-1].SiteIDs, siteID)
			continue
		}
		out = append(out, ExitNodeSites{ExitNode: node, SiteIDs: []int{siteID}})
	}
	return out, rows.Err()
}
