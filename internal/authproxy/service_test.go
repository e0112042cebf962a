package authproxy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	sites            map[int]model.Site
	orgs             map[string]model.Org
	rows             map[int][]storage.AuthProxyTarget
	whitelists       map[int][]string
	sitesForResource map[int][]int
	newts            map[int]model.Newt
}

func (f *fakeStore) GetSite(_ context.Context, siteID int) (model.Site, error) {
	s, ok := f.sites[siteID]
	if !ok {
		return model.Site{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetOrg(_ context.Context, orgID string) (model.Org, error) {
	o, ok := f.orgs[orgID]
	if !ok {
		return model.Org{}, storage.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) AuthProxyTargetsForSite(_ context.Context, siteID int) ([]storage.AuthProxyTarget, error) {
	return f.rows[siteID], nil
}

func (f *fakeStore) AllowedEmails(_ context.Context, resourceID int) ([]string, error) {
	return f.whitelists[resourceID], nil
}

func (f *fakeStore) SitesForResource(_ context.Context, resourceID int) ([]int, error) {
	return f.sitesForResource[resourceID], nil
}

func (f *fakeStore) NewtForSite(_ context.Context, siteID int) (model.Newt, error) {
	n, ok := f.newts[siteID]
	if !ok {
		return model.Newt{}, storage.ErrNotFound
	}
	return n, nil
}

type sentMessage struct {
	kind    model.AgentKind
	agentID string
	msg     bus.Message
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) Send(kind model.AgentKind, agentID string, msg bus.Message) bool {
	f.sent = append(f.sent, sentMessage{kind: kind, agentID: agentID, msg: msg})
	return true
}

type fakeKeys struct{ pem string }

func (f fakeKeys) PublicKeyPEM() string { return f.pem }

func protectedRow(resourceID, targetID int) storage.AuthProxyTarget {
	return storage.AuthProxyTarget{
		Target: model.Target{
			TargetID:   targetID,
			ResourceID: resourceID,
			SiteID:     1,
			IP:         "10.0.0.5",
			Port:       8080,
			Enabled:    true,
		},
		Resource: model.Resource{
			ResourceID:          resourceID,
			FullDomain:          "app.example.com",
			SSO:                 true,
			DNSAuthorityEnabled: true,
		},
	}
}

func protectedStore() *fakeStore {
	return &fakeStore{
		sites: map[int]model.Site{1: {SiteID: 1, OrgID: "org-1"}},
		orgs:  map[string]model.Org{"org-1": {OrgID: "org-1"}},
		rows:  map[int][]storage.AuthProxyTarget{1: {protectedRow(7, 70)}},
		newts: map[int]model.Newt{1: {NewtID: "newt-1"}},
	}
}

func newTestService(store *fakeStore, sender *fakeSender) *Service {
	return NewService(store, sender, fakeKeys{pem: "PEM"}, Config{
		DashboardURL: "https://pangolin.example.com",
	}, testLogger())
}

func TestUpdateForSiteSendsConfig(t *testing.T) {
	store := protectedStore()
	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, model.KindNewt, sender.sent[0].kind)
	assert.Equal(t, "newt-1", sender.sent[0].agentID)
	assert.Equal(t, bus.TypeNewtAuthProxy, sender.sent[0].msg.Type)

	cfg := sender.sent[0].msg.Data.(ConfigMessage)
	assert.Equal(t, "update", cfg.Action)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "https://pangolin.example.com", cfg.Auth.PangolinURL)
	assert.Equal(t, "PEM", cfg.Auth.JWTPublicKey)
	assert.Equal(t, "p_session", cfg.Auth.CookieName)
	assert.Equal(t, ".example.com", cfg.Auth.CookieDomain)
	assert.Equal(t, "https://pangolin.example.com/api/v1/auth/session/validate", cfg.Auth.SessionValidationURL)

	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, 7, cfg.Resources[0].ResourceID)
	assert.Equal(t, "app.example.com", cfg.Resources[0].Domain)
	assert.True(t, cfg.Resources[0].SSO)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.Resources[0].TargetURL)
}

func TestUpdateForSiteTargetURLSchemeFollowsSSL(t *testing.T) {
	store := protectedStore()
	r := protectedRow(7, 70)
	r.Target.SSL = true
	store.rows[1] = []storage.AuthProxyTarget{r}

	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	cfg := sender.sent[0].msg.Data.(ConfigMessage)
	assert.Equal(t, "https://10.0.0.5:8080", cfg.Resources[0].TargetURL)
}

func TestUpdateForSiteFirstTargetPerResource(t *testing.T) {
	store := protectedStore()
	second := protectedRow(7, 71)
	second.Target.IP = "10.0.0.6"
	store.rows[1] = append(store.rows[1], second)

	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	cfg := sender.sent[0].msg.Data.(ConfigMessage)
	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.Resources[0].TargetURL)
}

func TestUpdateForSiteWhitelistLoadedOnlyWhenEnabled(t *testing.T) {
	store := protectedStore()
	r := protectedRow(7, 70)
	r.Resource.EmailWhitelistEnabled = true
	store.rows[1] = []storage.AuthProxyTarget{r}
	store.whitelists = map[int][]string{7: {"a@example.com", "b@example.com"}}

	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	cfg := sender.sent[0].msg.Data.(ConfigMessage)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Resources[0].AllowedEmails)
}

func TestUpdateForSiteNoProtectedResourcesNoMessage(t *testing.T) {
	store := protectedStore()
	store.rows = map[int][]storage.AuthProxyTarget{}

	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	assert.Empty(t, sender.sent)
}

func TestUpdateForSiteMissingSiteOrNewtIsNoop(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(&fakeStore{}, sender)
	require.NoError(t, svc.UpdateForSite(context.Background(), 99))
	assert.Empty(t, sender.sent)

	store := protectedStore()
	store.newts = map[int]model.Newt{}
	sender = &fakeSender{}
	svc = newTestService(store, sender)
	require.NoError(t, svc.UpdateForSite(context.Background(), 1))
	assert.Empty(t, sender.sent)
}

func TestUpdateForResourceFansOutToSites(t *testing.T) {
	store := protectedStore()
	store.sitesForResource = map[int][]int{7: {1}}

	sender := &fakeSender{}
	svc := newTestService(store, sender)

	require.NoError(t, svc.UpdateForResource(context.Background(), 7))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "newt-1", sender.sent[0].agentID)
}

func TestCookieDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://pangolin.example.com", ".example.com"},
		{"https://deep.sub.example.co.uk", ".co.uk"},
		{"http://localhost:3002", "localhost"},
		{"http://192.0.2.1:3002", "192.0.2.1"},
		{"https://example.com", ".example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cookieDomain(tt.url), "url %q", tt.url)
	}
}
