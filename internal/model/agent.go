package model

import "time"

// AgentKind distinguishes the two kinds of edge agent.
type AgentKind string

const (
	KindNewt AgentKind = "newt"
	KindOlm  AgentKind = "olm"
)

// Newt is the site-side tunnel/ingress agent. One-to-one or one-to-zero
// with a site. SecretHash is an Argon2id hash of the connection secret.
type Newt struct {
	NewtID     string    `json:"newtId"`
	SiteID     *int      `json:"siteId,omitempty"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Olm is a local-resolver agent. It reaches sites indirectly through the
// clients it owns.
type Olm struct {
	OlmID      string    `json:"olmId"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Client is a logical client owned by an Olm.
type Client struct {
	ClientID int    `json:"clientId"`
	OlmID    string `json:"olmId"`
	PubKey   string `json:"pubKey"`
}

// ClientSiteAssociation caches which sites a client peers with.
type ClientSiteAssociation struct {
	ClientID int `json:"clientId"`
	SiteID   int `json:"siteId"`
}
