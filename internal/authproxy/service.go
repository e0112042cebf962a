// Package authproxy reconciles per-site auth-proxy configuration: the
// global authentication parameters plus the policy for every protected
// resource a site hosts, pushed to the site's newt so it can gate inbound
// requests without a controller round-trip on the hot path.
package authproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

// Store is the slice of the storage layer the reconciler reads.
type Store interface {
	GetSite(ctx context.Context, siteID int) (model.Site, error)
	GetOrg(ctx context.Context, orgID string) (model.Org, error)
	AuthProxyTargetsForSite(ctx context.Context, siteID int) ([]storage.AuthProxyTarget, error)
	AllowedEmails(ctx context.Context, resourceID int) ([]string, error)
	SitesForResource(ctx context.Context, resourceID int) ([]int, error)
	NewtForSite(ctx context.Context, siteID int) (model.Newt, error)
}

// Sender is the outbound half of the agent bus.
type Sender interface {
	Send(kind model.AgentKind, agentID string, msg bus.Message) bool
}

// KeyProvider supplies the public PEM newts verify session JWTs with.
type KeyProvider interface {
	PublicKeyPEM() string
}

// Config carries the operator settings the builder needs. Secret is loaded
// for forward compatibility and not emitted in any payload.
type Config struct {
	DashboardURL string
	Secret       string
}

// Service is the auth-proxy reconciler.
type Service struct {
	store  Store
	sender Sender
	keys   KeyProvider
	cfg    Config
	logger *slog.Logger
}

// NewService creates the reconciler.
func NewService(store Store, sender Sender, keys KeyProvider, cfg Config, logger *slog.Logger) *Service {
	return &Service{store: store, sender: sender, keys: keys, cfg: cfg, logger: logger}
}

// UpdateForSite rebuilds the auth-proxy config for one site and pushes it
// to the site's newt. A site with no protected resources produces no
// message; a missing site or org is a no-op.
func (s *Service) UpdateForSite(ctx context.Context, siteID int) error {
	site, err := s.store.GetSite(ctx, siteID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("authproxy: load site %d: %w", siteID, err)
	}

	if _, err := s.store.GetOrg(ctx, site.OrgID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("authproxy: load org %s: %w", site.OrgID, err)
	}

	rows, err := s.store.AuthProxyTargetsForSite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("authproxy: load targets for site %d: %w", siteID, err)
	}
	if len(rows) == 0 {
		return nil
	}

	if s.cfg.DashboardURL == "" {
		s.logger.Warn("authproxy: dashboard URL not configured, skipping push", "site_id", siteID)
		return nil
	}

	resources, err := s.buildResources(ctx, rows)
	if err != nil {
		return err
	}

	msg := ConfigMessage{
		Action: "update",
		Auth: AuthConfig{
			Enabled:              true,
			PangolinURL:          s.cfg.DashboardURL,
			JWTPublicKey:         s.keys.PublicKeyPEM(),
			CookieName:           CookieName,
			CookieDomain:         cookieDomain(s.cfg.DashboardURL),
			SessionValidationURL: strings.TrimSuffix(s.cfg.DashboardURL, "/") + "/api/v1/auth/session/validate",
		},
		Resources: resources,
	}

	newt, err := s.store.NewtForSite(ctx, siteID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug("authproxy: site has no newt, skipping push", "site_id", siteID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("authproxy: load newt for site %d: %w", siteID, err)
	}

	s.sender.Send(model.KindNewt, newt.NewtID, bus.Message{Type: bus.TypeNewtAuthProxy, Data: msg})
	return nil
}

// buildResources collapses target rows to one policy entry per resource.
// Rows arrive ordered by resource then target, so the first target of each
// resource on the site supplies the upstream URL.
func (s *Service) buildResources(ctx context.Context, rows []storage.AuthProxyTarget) ([]ResourceAuthConfig, error) {
	var out []ResourceAuthConfig
	for _, row := range rows {
		if n := len(out); n > 0 && out[n-1].ResourceID == row.Resource.ResourceID {
			continue
		}

		scheme := "http"
		if row.Target.SSL {
			scheme = "https"
		}

		entry := ResourceAuthConfig{
			ResourceID:            row.Resource.ResourceID,
			Domain:                row.Resource.FullDomain,
			SSO:                   row.Resource.SSO,
			BlockAccess:           row.Resource.BlockAccess,
			EmailWhitelistEnabled: row.Resource.EmailWhitelistEnabled,
			TargetURL:             fmt.Sprintf("%s://%s:%d", scheme, row.Target.IP, row.Target.Port),
			SSL:                   row.Resource.SSL,
		}

		if row.Resource.EmailWhitelistEnabled {
			emails, err := s.store.AllowedEmails(ctx, row.Resource.ResourceID)
			if err != nil {
				return nil, fmt.Errorf("authproxy: load whitelist for resource %d: %w", row.Resource.ResourceID, err)
			}
			entry.AllowedEmails = emails
		}

		out = append(out, entry)
	}
	return out, nil
}

// UpdateForResource rebuilds the auth-proxy config of every site hosting an
// enabled target of the resource.
func (s *Service) UpdateForResource(ctx context.Context, resourceID int) error {
	siteIDs, err := s.store.SitesForResource(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("authproxy: load sites for resource %d: %w", resourceID, err)
	}
	for _, siteID := range siteIDs {
		if err := s.UpdateForSite(ctx, siteID); err != nil {
			return err
		}
	}
	return nil
}
