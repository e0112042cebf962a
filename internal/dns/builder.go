package dns

import (
	"sort"

	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

// buildZone derives the zone config for a resource from its target rows.
// Returns nil when the resource should not be served: authority disabled,
// no domain, or no target left after filtering. A nil zone means remove.
func buildZone(resource model.Resource, rows []storage.ResourceTarget) *ZoneConfig {
	if !resource.DNSAuthorityEnabled || resource.FullDomain == "" {
		return nil
	}

	var targets []ZoneTarget
	for _, row := range rows {
		if !retained(row) {
			continue
		}

		priority := row.Target.Priority
		if priority == 0 {
			priority = model.DefaultTargetPriority
		}

		// Targets without health checking count as healthy; otherwise only
		// an observed "healthy" does.
		healthy := true
		if row.Health.HCEnabled {
			healthy = row.Health.HCHealth == model.HealthHealthy
		}

		targets = append(targets, ZoneTarget{
			IP:       *row.Site.PublicIP,
			Priority: priority,
			Healthy:  healthy,
			SiteID:   row.Site.SiteID,
			SiteName: row.Site.Name,
		})
	}

	if len(targets) == 0 {
		return nil
	}

	ttl := resource.DNSAuthorityTTL
	if ttl == 0 {
		ttl = model.DefaultDNSAuthorityTTL
	}
	policy := resource.DNSAuthorityPolicy
	if policy == "" {
		policy = model.RoutingFailover
	}

	return &ZoneConfig{
		Enabled:       true,
		Domain:        resource.FullDomain,
		TTL:           ttl,
		RoutingPolicy: policy,
		Targets:       targets,
	}
}

// retained reports whether a target row participates in the zone: the
// target is enabled and its site is an authority with a public IP to
// answer with.
func retained(row storage.ResourceTarget) bool {
	return row.Target.Enabled &&
		row.Site.DNSAuthorityEnabled &&
		row.Site.PublicIP != nil
}

// recipientSites returns the distinct authority site IDs among the rows,
// ascending. These sites' newts, and the olms associated with them, form
// the recipient set of the zone.
func recipientSites(rows []storage.ResourceTarget) []int {
	seen := make(map[int]struct{})
	for _, row := range rows {
		if retained(row) {
			seen[row.Site.SiteID] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
