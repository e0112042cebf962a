// Package bootstrap rebuilds an agent's view from persistent state when it
// (re)connects. This is the recovery half of the at-most-once delivery
// model: any message dropped while the agent was away is made irrelevant by
// the full snapshot pushed here.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

// Store is the slice of the storage layer the bootstrapper reads.
type Store interface {
	GetNewt(ctx context.Context, newtID string) (model.Newt, error)
	ClientsForOlm(ctx context.Context, olmID string) ([]model.Client, error)
	SitesForOlm(ctx context.Context, olmID string) ([]model.Site, error)
	ExitNodesForSites(ctx context.Context, siteIDs []int) ([]storage.ExitNodeSites, error)
}

// Sender is the outbound half of the agent bus.
type Sender interface {
	Send(kind model.AgentKind, agentID string, msg bus.Message) bool
}

// ZonePusher is the DNS reconciler's bootstrap surface.
type ZonePusher interface {
	SendZonesToOlm(ctx context.Context, olmID string, clientID int) error
	SendZonesToNewt(ctx context.Context, newtID string, siteID int) error
}

// AuthProxyPusher rebuilds a site's auth-proxy config.
type AuthProxyPusher interface {
	UpdateForSite(ctx context.Context, siteID int) error
}

// SyncSite is one site entry in an olm/sync payload.
type SyncSite struct {
	SiteID              int     `json:"siteId"`
	NiceID              string  `json:"niceId"`
	Name                string  `json:"name"`
	PublicIP            *string `json:"publicIp,omitempty"`
	DNSAuthorityEnabled bool    `json:"dnsAuthorityEnabled"`
}

// SyncExitNode is one relay entry in an olm/sync payload.
type SyncExitNode struct {
	PublicKey string `json:"publicKey"`
	RelayPort int    `json:"relayPort"`
	Endpoint  string `json:"endpoint"`
	SiteIDs   []int  `json:"siteIds"`
}

// SyncMessage is the olm/sync payload.
type SyncMessage struct {
	Sites     []SyncSite     `json:"sites"`
	ExitNodes []SyncExitNode `json:"exitNodes"`
}

// Service pushes (re)connect bootstraps.
type Service struct {
	store     Store
	sender    Sender
	zones     ZonePusher
	authProxy AuthProxyPusher
	relayPort int
	logger    *slog.Logger
}

// New creates the bootstrapper. relayPort is the base relay port announced
// to olms in olm/sync.
func New(store Store, sender Sender, zones ZonePusher, authProxy AuthProxyPusher, relayPort int, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		sender:    sender,
		zones:     zones,
		authProxy: authProxy,
		relayPort: relayPort,
		logger:    logger,
	}
}

// Hook returns the connect hook to register on the bus. Push failures are
// logged and swallowed: the agent resyncs again on its next reconnect.
func (s *Service) Hook() bus.ConnectHook {
	return func(ctx context.Context, kind model.AgentKind, agentID string) {
		switch kind {
		case model.KindNewt:
			s.onNewtConnect(ctx, agentID)
		case model.KindOlm:
			s.onOlmConnect(ctx, agentID)
		}
	}
}

func (s *Service) onNewtConnect(ctx context.Context, newtID string) {
	newt, err := s.store.GetNewt(ctx, newtID)
	if err != nil {
		s.logger.Warn("bootstrap: load newt on connect", "newt_id", newtID, "error", err)
		return
	}
	if newt.SiteID == nil {
		return
	}

	if err := s.authProxy.UpdateForSite(ctx, *newt.SiteID); err != nil {
		s.logger.Warn("bootstrap: push auth proxy config", "newt_id", newtID, "error", err)
	}
	if err := s.zones.SendZonesToNewt(ctx, newtID, *newt.SiteID); err != nil {
		s.logger.Warn("bootstrap: push zones to newt", "newt_id", newtID, "error", err)
	}
}

func (s *Service) onOlmConnect(ctx context.Context, olmID string) {
	sites, err := s.store.SitesForOlm(ctx, olmID)
	if err != nil {
		s.logger.Warn("bootstrap: load sites on olm connect", "olm_id", olmID, "error", err)
		return
	}

	siteIDs := make([]int, 0, len(sites))
	syncSites := make([]SyncSite, 0, len(sites))
	for _, site := range sites {
		siteIDs = append(siteIDs, site.SiteID)
		syncSites = append(syncSites, SyncSite{
			SiteID:              site.SiteID,
			NiceID:              site.NiceID,
			Name:                site.Name,
			PublicIP:            site.PublicIP,
			DNSAuthorityEnabled: site.DNSAuthorityEnabled,
		})
	}

	nodes, err := s.store.ExitNodesForSites(ctx, siteIDs)
	if err != nil {
		s.logger.Warn("bootstrap: load exit nodes on olm connect", "olm_id", olmID, "error", err)
		return
	}
	syncNodes := make([]SyncExitNode, 0, len(nodes))
	for _, node := range nodes {
		syncNodes = append(syncNodes, SyncExitNode{
			PublicKey: node.PublicKey,
			RelayPort: s.relayPort,
			Endpoint:  node.Endpoint,
			SiteIDs:   node.SiteIDs,
		})
	}

	s.sender.Send(model.KindOlm, olmID, bus.Message{
		Type: bus.TypeOlmSync,
		Data: SyncMessage{Sites: syncSites, ExitNodes: syncNodes},
	})

	clients, err := s.store.ClientsForOlm(ctx, olmID)
	if err != nil {
		s.logger.Warn("bootstrap: load clients on olm connect", "olm_id", olmID, "error", err)
		return
	}
	for _, client := range clients {
		if err := s.zones.SendZonesToOlm(ctx, olmID, client.ClientID); err != nil {
			s.logger.Warn("bootstrap: push zones to olm",
				"olm_id", olmID, "client_id", client.ClientID, "error", err)
		}
	}
}
