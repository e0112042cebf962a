package healthingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	newts   map[string]model.Newt
	targets map[int]model.Target
	updates map[int]model.HealthState
}

func (f *fakeStore) GetNewt(_ context.Context, id string) (model.Newt, error) {
	n, ok := f.newts[id]
	if !ok {
		return model.Newt{}, storage.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) GetTarget(_ context.Context, id int) (model.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return model.Target{}, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) UpdateTargetHealthStatus(_ context.Context, id int, status model.HealthState) error {
	if f.updates == nil {
		f.updates = make(map[int]model.HealthState)
	}
	f.updates[id] = status
	return nil
}

type fakeReconciler struct {
	batches [][]int
}

func (f *fakeReconciler) OnHealthCheckUpdate(_ context.Context, targetIDs []int) {
	sorted := make([]int, len(targetIDs))
	copy(sorted, targetIDs)
	sort.Ints(sorted)
	f.batches = append(f.batches, sorted)
}

func intPtr(i int) *int { return &i }

func reporterStore() *fakeStore {
	return &fakeStore{
		newts: map[string]model.Newt{"newt-1": {NewtID: "newt-1", SiteID: intPtr(1)}},
		targets: map[int]model.Target{
			10: {TargetID: 10, SiteID: 1},
			11: {TargetID: 11, SiteID: 1},
			20: {TargetID: 20, SiteID: 2}, // another site's target
		},
	}
}

func report(t *testing.T, targets map[string]TargetReport) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(StatusReport{Targets: targets})
	require.NoError(t, err)
	return raw
}

func TestHandlePersistsAndBatches(t *testing.T) {
	store := reporterStore()
	rec := &fakeReconciler{}
	ing := New(store, rec, testLogger())

	payload := report(t, map[string]TargetReport{
		"10": {Status: model.HealthHealthy},
		"11": {Status: model.HealthUnhealthy},
	})
	require.NoError(t, ing.Handle(context.Background(), model.KindNewt, "newt-1", payload))

	assert.Equal(t, model.HealthHealthy, store.updates[10])
	assert.Equal(t, model.HealthUnhealthy, store.updates[11])
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []int{10, 11}, rec.batches[0])
}

func TestHandleRejectsForeignTarget(t *testing.T) {
	store := reporterStore()
	rec := &fakeReconciler{}
	ing := New(store, rec, testLogger())

	payload := report(t, map[string]TargetReport{
		"20": {Status: model.HealthUnhealthy}, // belongs to site 2
		"99": {Status: model.HealthHealthy},   // does not exist
	})
	require.NoError(t, ing.Handle(context.Background(), model.KindNewt, "newt-1", payload))

	assert.Empty(t, store.updates)
	assert.Empty(t, rec.batches)
}

func TestHandleSkipsBadRowsKeepsGood(t *testing.T) {
	store := reporterStore()
	rec := &fakeReconciler{}
	ing := New(store, rec, testLogger())

	payload := report(t, map[string]TargetReport{
		"not-a-number": {Status: model.HealthHealthy},
		"10":           {Status: "bogus"},
		"11":           {Status: model.HealthHealthy},
	})
	require.NoError(t, ing.Handle(context.Background(), model.KindNewt, "newt-1", payload))

	assert.Equal(t, map[int]model.HealthState{11: model.HealthHealthy}, store.updates)
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []int{11}, rec.batches[0])
}

func TestHandleRejectsNonNewtSender(t *testing.T) {
	ing := New(reporterStore(), &fakeReconciler{}, testLogger())
	err := ing.Handle(context.Background(), model.KindOlm, "olm-1", report(t, nil))
	assert.Error(t, err)
}

func TestHandleRejectsUnboundReporter(t *testing.T) {
	store := reporterStore()
	store.newts["newt-2"] = model.Newt{NewtID: "newt-2"} // no site
	ing := New(store, &fakeReconciler{}, testLogger())

	err := ing.Handle(context.Background(), model.KindNewt, "newt-2", report(t, nil))
	assert.Error(t, err)

	err = ing.Handle(context.Background(), model.KindNewt, "ghost", report(t, nil))
	assert.Error(t, err)
}

func TestHandleMalformedPayload(t *testing.T) {
	ing := New(reporterStore(), &fakeReconciler{}, testLogger())
	err := ing.Handle(context.Background(), model.KindNewt, "newt-1", json.RawMessage(`"nope"`))
	assert.Error(t, err)
}
