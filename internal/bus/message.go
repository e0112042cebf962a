package bus

import "encoding/json"

// Message is the envelope every agent message travels in, both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Inbound is a decoded inbound envelope. Data stays raw until the handler
// for the type unmarshals it.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message types used by the control plane.
const (
	// Outbound, controller -> agent.
	TypeOlmSync          = "olm/sync"
	TypeNewtDNSAuthority = "newt/dns/authority/config"
	TypeOlmDNSAuthority  = "olm/dns/authority/config"
	TypeNewtAuthProxy    = "newt/auth/proxy/config"

	// Inbound, agent -> controller.
	TypeHealthcheckStatus = "healthcheck/status"
)
