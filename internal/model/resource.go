package model

import "time"

// RoutingPolicy selects how DNS answers are ordered across a zone's targets.
type RoutingPolicy string

const (
	RoutingFailover   RoutingPolicy = "failover"
	RoutingRoundRobin RoutingPolicy = "roundrobin"
	RoutingPriority   RoutingPolicy = "priority"
)

// Valid reports whether p is a known routing policy.
func (p RoutingPolicy) Valid() bool {
	switch p {
	case RoutingFailover, RoutingRoundRobin, RoutingPriority:
		return true
	}
	return false
}

// DNS-authority TTL bounds in seconds.
const (
	MinDNSAuthorityTTL     = 10
	MaxDNSAuthorityTTL     = 86400
	DefaultDNSAuthorityTTL = 60
)

// DefaultTargetPriority is assigned to targets created without an explicit
// priority. Lower is preferred.
const DefaultTargetPriority = 100

// Resource is a routable service exposed by the platform.
type Resource struct {
	ResourceID            int           `json:"resourceId"`
	OrgID                 string        `json:"orgId"`
	Name                  string        `json:"name"`
	FullDomain            string        `json:"fullDomain"`
	SSL                   bool          `json:"ssl"`
	HTTP                  bool          `json:"http"`
	SSO                   bool          `json:"sso"`
	BlockAccess           bool          `json:"blockAccess"`
	EmailWhitelistEnabled bool          `json:"emailWhitelistEnabled"`
	DNSAuthorityEnabled   bool          `json:"dnsAuthorityEnabled"`
	DNSAuthorityTTL       int           `json:"dnsAuthorityTtl"`
	DNSAuthorityPolicy    RoutingPolicy `json:"dnsAuthorityRoutingPolicy"`
	CreatedAt             time.Time     `json:"createdAt"`
}

// TargetMethod is the upstream protocol of a target.
type TargetMethod string

const (
	MethodHTTP  TargetMethod = "http"
	MethodHTTPS TargetMethod = "https"
	MethodTCP   TargetMethod = "tcp"
	MethodUDP   TargetMethod = "udp"
)

// Target is an upstream (site, ip, port) that serves a resource.
type Target struct {
	TargetID   int          `json:"targetId"`
	ResourceID int          `json:"resourceId"`
	SiteID     int          `json:"siteId"`
	IP         string       `json:"ip"`
	Port       int          `json:"port"`
	Method     TargetMethod `json:"method"`
	Enabled    bool         `json:"enabled"`
	Priority   int          `json:"priority"`
	SSL        bool         `json:"ssl"`
}

// HealthState is the observed health of a target.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// Valid reports whether h is a known health state.
func (h HealthState) Valid() bool {
	switch h {
	case HealthHealthy, HealthUnhealthy, HealthUnknown:
		return true
	}
	return false
}

// TargetHealth is the per-target health-check row, one-to-one with Target.
// HCHealth is mutated by the health ingestor only.
type TargetHealth struct {
	TargetID   int         `json:"targetId"`
	HCEnabled  bool        `json:"hcEnabled"`
	HCHealth   HealthState `json:"hcHealth"`
	HCPath     string      `json:"hcPath"`
	HCScheme   string      `json:"hcScheme"`
	HCMode     string      `json:"hcMode"`
	HCPort     int         `json:"hcPort"`
	HCInterval int         `json:"hcInterval"`
	HCTimeout  int         `json:"hcTimeout"`
	HCHeaders  string      `json:"hcHeaders"`
	HCMethod   string      `json:"hcMethod"`
}
