package dns

import "github.com/ashita-ai/warren/internal/model"

// Actions carried by a dns/authority/config message.
const (
	ActionUpdate = "update"
	ActionRemove = "remove"
	ActionStart  = "start"
	ActionStop   = "stop"
)

// ZoneTarget is one answer candidate within a zone. IP is always the
// hosting site's public IP, never the target's internal upstream address.
type ZoneTarget struct {
	IP       string `json:"ip"`
	Priority int    `json:"priority"`
	Healthy  bool   `json:"healthy"`
	SiteID   int    `json:"siteId"`
	SiteName string `json:"siteName"`
}

// ZoneConfig is the minimum state an agent needs to answer DNS for one
// resource's domain. For remove/stop actions only Domain is populated;
// agents ignore any other field that appears.
type ZoneConfig struct {
	Enabled       bool                `json:"enabled,omitempty"`
	Domain        string              `json:"domain"`
	TTL           int                 `json:"ttl,omitempty"`
	RoutingPolicy model.RoutingPolicy `json:"routingPolicy,omitempty"`
	Targets       []ZoneTarget        `json:"targets,omitempty"`
}

// ConfigMessage is the payload of newt/dns/authority/config and
// olm/dns/authority/config messages.
type ConfigMessage struct {
	Action string       `json:"action"`
	Zones  []ZoneConfig `json:"zones"`
}
