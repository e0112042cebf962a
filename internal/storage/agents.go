package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

// GetNewt returns one newt by ID, including its secret hash.
func (s *Store) GetNewt(ctx context.Context, newtID string) (model.Newt, error) {
	var n model.Newt
	err := s.pool.QueryRow(ctx,
		`SELECT newt_id, site_id, secret_hash, created_at FROM newts WHERE newt_id = $1`,
		newtID,
	).Scan(&n.NewtID, &n.SiteID, &n.SecretHash, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Newt{}, ErrNotFound
	}
	if err != nil {
		return model.Newt{}, fmt.Errorf("storage: get newt %s: %w", newtID, err)
	}
	return n, nil
}

// GetOlm returns one olm by ID, including its secret hash.
func (s *Store) GetOlm(ctx context.Context, olmID string) (model.Olm, error) {
	var o model.Olm
	err := s.pool.QueryRow(ctx,
		`SELECT olm_id, secret_hash, created_at FROM olms WHERE olm_id = $1`,
		olmID,
	).Scan(&o.OlmID, &o.SecretHash, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Olm{}, ErrNotFound
	}
	if err != nil {
		return model.Olm{}, fmt.Errorf("storage: get olm %s: %w", olmID, err)
	}
	return o, nil
}

// CreateNewt inserts a newt.
func (s *Store) CreateNewt(ctx context.Context, n model.Newt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO newts (newt_id, site_id, secret_hash) VALUES ($1, $2, $3)`,
		n.NewtID, n.SiteID, n.SecretHash)
	if err != nil {
		return fmt.Errorf("storage: create newt: %w", err)
	}
	return nil
}

// CreateOlm inserts an olm.
func (s *Store) CreateOlm(ctx context.Context, o model.Olm) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO olms (olm_id, secret_hash) VALUES ($1, $2)`,
		o.OlmID, o.SecretHash)
	if err != nil {
		return fmt.Errorf("storage: create olm: %w", err)
	}
	return nil
}

// CreateClient inserts a client owned by an olm and returns its generated ID.
func (s *Store) CreateClient(ctx context.Context, c model.Client) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO clients (olm_id, pub_key) VALUES ($1, $2) RETURNING client_id`,
		c.OlmID, c.PubKey,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: create client: %w", err)
	}
	return id, nil
}

// AssociateClientSite records that a client peers with a site.
func (s *Store) AssociateClientSite(ctx context.Context, clientID, siteID int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO client_sites (client_id, site_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		clientID, siteID)
	if err != nil {
		return fmt.Errorf("storage: associate client site: %w", err)
	}
	return nil
}

// NewtsForSites returns the newts bound to any of the given sites, ordered
// by site ID.
func (s *Store) NewtsForSites(ctx context.Context, siteIDs []int) ([]model.Newt, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT newt_id, site_id, secret_hash, created_at FROM newts
		 WHERE site_id = ANY($1)
		 ORDER BY site_id`,
		siteIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: newts for sites: %w", err)
	}
	defer rows.Close()

	var newts []model.Newt
	for rows.Next() {
		var n model.Newt
		if err := rows.Scan(&n.NewtID, &n.SiteID, &n.SecretHash, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan newt: %w", err)
		}
		newts = append(newts, n)
	}
	return newts, rows.Err()
}

// NewtForSite returns the newt bound to one site.
func (s *Store) NewtForSite(ctx context.Context, siteID int) (model.Newt, error) {
	var n model.Newt
	err := s.pool.QueryRow(ctx,
		`SELECT newt_id, site_id, secret_hash, created_at FROM newts WHERE site_id = $1`,
		siteID,
	).Scan(&n.NewtID, &n.SiteID, &n.SecretHash, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Newt{}, ErrNotFound
	}
	if err != nil {
		return model.Newt{}, fmt.Errorf("storage: newt for site %d: %w", siteID, err)
	}
	return n, nil
}

// OlmRecipientsForSites returns the distinct olm IDs whose clients are
// associated with any of the given sites, ascending.
//
// Every client-site association counts, whether or not the client's pubKey
// matches a currently-online connection. The bus turns sends to offline
// olms into advisory drops, and the reconnect-time resync makes them whole.
func (s *Store) OlmRecipientsForSites(ctx context.Context, siteIDs []int) ([]string, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT c.olm_id
		 FROM clients c
		 JOIN client_sites cs ON cs.client_id = c.client_id
		 WHERE cs.site_id = ANY($1)
		 ORDER BY c.olm_id`,
		siteIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: olm recipients for sites: %w", err)
	}
	defer rows.Close()

	var olmIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan olm id: %w", err)
		}
		olmIDs = append(olmIDs, id)
	}
	return olmIDs, rows.Err()
}

// ClientsForOlm returns the clients owned by an olm, ordered by client ID.
func (s *Store) ClientsForOlm(ctx context.Context, olmID string) ([]model.Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, olm_id, pub_key FROM clients WHERE olm_id = $1 ORDER BY client_id`,
		olmID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: clients for olm %s: %w", olmID, err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ClientID, &c.OlmID, &c.PubKey); err != nil {
			return nil, fmt.Errorf("storage: scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SitesForOlm returns the distinct sites any of the olm's clients peer with,
// ordered by site ID.
func (s *Store) SitesForOlm(ctx context.Context, olmID string) ([]model.Site, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT st.site_id, st.org_id, st.nice_id, st.name, st.type,
		   st.public_ip, st.server_public_ip, st.docker_socket_enabled,
		   st.dns_authority_enabled, st.exit_node_id, st.created_at
		 FROM sites st
		 JOIN client_sites cs ON cs.site_id = st.site_id
		 JOIN clients c ON c.client_id = cs.client_id
		 WHERE c.olm_id = $1
		 ORDER BY st.site_id`,
		olmID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: sites for olm %s: %w", olmID, err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// SitesForClient returns the distinct sites one client peers with, ordered
// by site ID.
func (s *Store) SitesForClient(ctx context.Context, clientID int) ([]model.Site, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT st.site_id, st.org_id, st.nice_id, st.name, st.type,
		   st.public_ip, st.server_public_ip, st.docker_socket_enabled,
		   st.dns_authority_enabled, st.exit_node_id, st.created_at
		 FROM sites st
		 JOIN client_sites cs ON cs.site_id = st.site_id
		 WHERE cs.client_id = $1
		 ORDER BY st.site_id`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: sites for client %d: %w", clientID, err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}
