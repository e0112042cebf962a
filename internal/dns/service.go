// Package dns reconciles authoritative-DNS zone configuration. It derives,
// from the relational state, which agents must serve which zones, and pushes
// full-snapshot zone messages through the bus. Every message is advisory:
// a drop is recovered by the next rebuild or the agent's reconnect resync.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

// Store is the slice of the storage layer the reconciler reads.
type Store interface {
	GetResource(ctx context.Context, resourceID int) (model.Resource, error)
	ListResourceTargets(ctx context.Context, resourceID int) ([]storage.ResourceTarget, error)
	NewtsForSites(ctx context.Context, siteIDs []int) ([]model.Newt, error)
	NewtForSite(ctx context.Context, siteID int) (model.Newt, error)
	OlmRecipientsForSites(ctx context.Context, siteIDs []int) ([]string, error)
	DNSAuthorityResourcesForTargets(ctx context.Context, targetIDs []int) ([]int, error)
	DNSAuthorityResourcesForSites(ctx context.Context, siteIDs []int) ([]model.Resource, error)
	DNSResourcesHostedOnSite(ctx context.Context, siteID int) ([]model.Resource, error)
	SitesForClient(ctx context.Context, clientID int) ([]model.Site, error)
	SitesForOlm(ctx context.Context, olmID string) ([]model.Site, error)
}

// Sender is the outbound half of the agent bus.
type Sender interface {
	Send(kind model.AgentKind, agentID string, msg bus.Message) bool
}

// Service is the DNS-authority reconciler.
type Service struct {
	store  Store
	sender Sender
	logger *slog.Logger

	// runs serializes rebuilds per resource. A request that arrives while
	// a rebuild is in flight marks it dirty instead of joining it: the
	// in-flight pass may have read state older than whatever triggered the
	// request, so the runner goes one more round before retiring. This way
	// the last dispatched snapshot always reflects the last trigger.
	mu   sync.Mutex
	runs map[int]*rebuildRun
}

type rebuildRun struct {
	dirty bool
}

// NewService creates the reconciler.
func NewService(store Store, sender Sender, logger *slog.Logger) *Service {
	return &Service{store: store, sender: sender, logger: logger, runs: make(map[int]*rebuildRun)}
}

// UpdateForResource rebuilds the zone config for one resource and
// dispatches it (or its removal) to the current recipient set. Idempotent:
// two back-to-back calls without a state change produce identical messages.
// If a rebuild of the same resource is already in flight, this returns
// immediately and the in-flight rebuild reruns with fresh state.
func (s *Service) UpdateForResource(ctx context.Context, resourceID int) error {
	s.mu.Lock()
	if run, ok := s.runs[resourceID]; ok {
		run.dirty = true
		s.mu.Unlock()
		return nil
	}
	run := &rebuildRun{}
	s.runs[resourceID] = run
	s.mu.Unlock()

	for {
		err := s.updateForResource(ctx, resourceID)

		s.mu.Lock()
		if run.dirty {
			run.dirty = false
			s.mu.Unlock()
			if err != nil {
				s.logger.Error("dns: rebuild failed before rerun",
					"resource_id", resourceID, "error", err)
			}
			continue
		}
		delete(s.runs, resourceID)
		s.mu.Unlock()
		return err
	}
}

func (s *Service) updateForResource(ctx context.Context, resourceID int) error {
	resource, err := s.store.GetResource(ctx, resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		// Resource already deleted; without its row the domain is unknown,
		// so there is nothing to address a removal to.
		s.logger.Debug("dns: resource gone, skipping rebuild", "resource_id", resourceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("dns: load resource %d: %w", resourceID, err)
	}

	rows, err := s.store.ListResourceTargets(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("dns: load targets for resource %d: %w", resourceID, err)
	}

	zone := buildZone(resource, rows)

	// Recipients are computed from the authority sites among the current
	// target rows, whether or not the zone survived filtering: a site that
	// served the zone a moment ago still hosts the targets, so the removal
	// reaches the same agents the update would have.
	siteIDs := recipientSites(rows)

	var msg ConfigMessage
	switch {
	case zone != nil:
		msg = ConfigMessage{Action: ActionUpdate, Zones: []ZoneConfig{*zone}}
	case resource.FullDomain != "":
		msg = ConfigMessage{Action: ActionRemove, Zones: []ZoneConfig{{Domain: resource.FullDomain}}}
	default:
		return nil
	}

	return s.dispatch(ctx, siteIDs, msg)
}

// dispatch sends one zone message to every newt on the given sites and
// every olm associated with them. Drops are advisory.
func (s *Service) dispatch(ctx context.Context, siteIDs []int, msg ConfigMessage) error {
	if len(siteIDs) == 0 {
		return nil
	}

	newts, err := s.store.NewtsForSites(ctx, siteIDs)
	if err != nil {
		return fmt.Errorf("dns: load newt recipients: %w", err)
	}
	olmIDs, err := s.store.OlmRecipientsForSites(ctx, siteIDs)
	if err != nil {
		return fmt.Errorf("dns: load olm recipients: %w", err)
	}

	for _, newt := range newts {
		s.sender.Send(model.KindNewt, newt.NewtID, bus.Message{Type: bus.TypeNewtDNSAuthority, Data: msg})
	}
	for _, olmID := range olmIDs {
		s.sender.Send(model.KindOlm, olmID, bus.Message{Type: bus.TypeOlmDNSAuthority, Data: msg})
	}
	return nil
}

// OnHealthCheckUpdate collapses target IDs to the distinct DNS-authority
// resources reached through them and rebuilds each zone once. A failed
// rebuild is logged and does not abort the rest.
func (s *Service) OnHealthCheckUpdate(ctx context.Context, targetIDs []int) {
	if len(targetIDs) == 0 {
		return
	}

	resourceIDs, err := s.store.DNSAuthorityResourcesForTargets(ctx, targetIDs)
	if err != nil {
		s.logger.Error("dns: resolve resources for health update", "error", err)
		return
	}

	for _, resourceID := range resourceIDs {
		if err := s.UpdateForResource(ctx, resourceID); err != nil {
			s.logger.Error("dns: rebuild after health update", "resource_id", resourceID, "error", err)
		}
	}
}

// SendZonesToOlm bootstraps one olm with every zone its client's sites
// should serve, in a single update message.
func (s *Service) SendZonesToOlm(ctx context.Context, olmID string, clientID int) error {
	sites, err := s.store.SitesForClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("dns: load sites for client %d: %w", clientID, err)
	}
	zones, err := s.zonesForSites(ctx, siteIDsOf(sites))
	if err != nil {
		return err
	}
	if len(zones) == 0 {
		return nil
	}

	s.sender.Send(model.KindOlm, olmID, bus.Message{
		Type: bus.TypeOlmDNSAuthority,
		Data: ConfigMessage{Action: ActionUpdate, Zones: zones},
	})
	return nil
}

// SendZonesToNewt bootstraps one newt with every zone its site serves.
func (s *Service) SendZonesToNewt(ctx context.Context, newtID string, siteID int) error {
	zones, err := s.zonesForSites(ctx, []int{siteID})
	if err != nil {
		return err
	}
	if len(zones) == 0 {
		return nil
	}

	s.sender.Send(model.KindNewt, newtID, bus.Message{
		Type: bus.TypeNewtDNSAuthority,
		Data: ConfigMessage{Action: ActionUpdate, Zones: zones},
	})
	return nil
}

// zonesForSites builds the full zone set the given sites participate in.
// Each zone is the complete snapshot for its resource, including authority
// targets on sites outside the requested set.
func (s *Service) zonesForSites(ctx context.Context, siteIDs []int) ([]ZoneConfig, error) {
	resources, err := s.store.DNSAuthorityResourcesForSites(ctx, siteIDs)
	if err != nil {
		return nil, fmt.Errorf("dns: load resources for sites: %w", err)
	}

	var zones []ZoneConfig
	for _, resource := range resources {
		rows, err := s.store.ListResourceTargets(ctx, resource.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("dns: load targets for resource %d: %w", resource.ResourceID, err)
		}
		if zone := buildZone(resource, rows); zone != nil {
			zones = append(zones, *zone)
		}
	}
	return zones, nil
}

// StopAuthorityForSite tells the site's newt, and the olms associated with
// the site, to stop serving every zone the site hosts. Call when a site's
// authority flag is withdrawn, then rebuild the affected resources so the
// remaining recipients get fresh snapshots.
func (s *Service) StopAuthorityForSite(ctx context.Context, siteID int) error {
	resources, err := s.store.DNSResourcesHostedOnSite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("dns: load resources on site %d: %w", siteID, err)
	}

	var zones []ZoneConfig
	for _, resource := range resources {
		if resource.FullDomain != "" {
			zones = append(zones, ZoneConfig{Domain: resource.FullDomain})
		}
	}
	if len(zones) == 0 {
		return nil
	}
	msg := ConfigMessage{Action: ActionStop, Zones: zones}

	newt, err := s.store.NewtForSite(ctx, siteID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("dns: load newt for site %d: %w", siteID, err)
	}
	if err == nil {
		s.sender.Send(model.KindNewt, newt.NewtID, bus.Message{Type: bus.TypeNewtDNSAuthority, Data: msg})
	}

	olmIDs, err := s.store.OlmRecipientsForSites(ctx, []int{siteID})
	if err != nil {
		return fmt.Errorf("dns: load olm recipients for site %d: %w", siteID, err)
	}
	for _, olmID := range olmIDs {
		s.sender.Send(model.KindOlm, olmID, bus.Message{Type: bus.TypeOlmDNSAuthority, Data: msg})
	}

	for _, resource := range resources {
		if err := s.UpdateForResource(ctx, resource.ResourceID); err != nil {
			s.logger.Error("dns: rebuild after site stop", "resource_id", resource.ResourceID, "error", err)
		}
	}
	return nil
}

func siteIDsOf(sites []model.Site) []int {
	ids := make([]int, 0, len(sites))
	for _, site := range sites {
		ids = append(ids, site.SiteID)
	}
	return ids
}
