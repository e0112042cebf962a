// Package model defines the persistent entities of the control plane.
package model

import "time"

// Org is the tenant root. It owns sites and resources.
type Org struct {
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
}

// SiteTypeNewt marks a site hosting a newt tunnel agent.
const SiteTypeNewt = "newt"

// Site is a deployment location hosting one tunnel agent. A site with
// DNSAuthorityEnabled must carry a public IP; the schema enforces this.
type Site struct {
	SiteID              int       `json:"siteId"`
	OrgID               string    `json:"orgId"`
	NiceID              string    `json:"niceId"`
	Name                string    `json:"name"`
	Type                string    `json:"type"`
	PublicIP            *string   `json:"publicIp,omitempty"`
	ServerPublicIP      *string   `json:"serverPublicIp,omitempty"`
	DockerSocketEnabled bool      `json:"dockerSocketEnabled"`
	DNSAuthorityEnabled bool      `json:"dnsAuthorityEnabled"`
	ExitNodeID          *int      `json:"exitNodeId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// ExitNode is a relay attached to sites.
type ExitNode struct {
	ExitNodeID int    `json:"exitNodeId"`
	PublicKey  string `json:"publicKey"`
	Endpoint   string `json:"endpoint"`
}
