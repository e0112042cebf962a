package authproxy

import (
	"net"
	"net/url"
	"strings"
)

// CookieName is the session cookie the auth proxy reads on every request.
const CookieName = "p_session"

// AuthConfig is the global half of a newt/auth/proxy/config payload.
type AuthConfig struct {
	Enabled              bool   `json:"enabled"`
	PangolinURL          string `json:"pangolinUrl"`
	JWTPublicKey         string `json:"jwtPublicKey"`
	CookieName           string `json:"cookieName"`
	CookieDomain         string `json:"cookieDomain"`
	SessionValidationURL string `json:"sessionValidationUrl"`
}

// ResourceAuthConfig is the per-resource policy half.
type ResourceAuthConfig struct {
	ResourceID            int      `json:"resourceId"`
	Domain                string   `json:"domain"`
	SSO                   bool     `json:"sso"`
	BlockAccess           bool     `json:"blockAccess"`
	EmailWhitelistEnabled bool     `json:"emailWhitelistEnabled"`
	AllowedEmails         []string `json:"allowedEmails"`
	TargetURL             string   `json:"targetUrl"`
	SSL                   bool     `json:"ssl"`
}

// ConfigMessage is the payload of a newt/auth/proxy/config message.
type ConfigMessage struct {
	Action    string               `json:"action"`
	Auth      AuthConfig           `json:"auth"`
	Resources []ResourceAuthConfig `json:"resources"`
}

// cookieDomain derives the cookie scope from the dashboard URL: a dot plus
// the last two labels of the host, or the bare host when it has only one
// label (e.g. "localhost").
func cookieDomain(dashboardURL string) string {
	u, err := url.Parse(dashboardURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	return "." + strings.Join(labels[len(labels)-2:], ".")
}
