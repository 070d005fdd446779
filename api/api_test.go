package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/credential"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/stream"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker"
)

type fakeTracker struct {
	subjects   map[string]bool
	lists      model.FilterLists
	history    []*model.EnrichedTransaction
	connectErr error
	connects   int
	saveErr    error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{subjects: map[string]bool{}}
}

func (f *fakeTracker) Net() string { return "solana" }

func (f *fakeTracker) Connect(context.Context) error {
	f.connects++

	return f.connectErr
}

func (f *fakeTracker) AddSubject(_ context.Context, s string) error {
	if s == "bad" {
		return errors.Annotatef(tracker.ErrInvalidSubject, "%q", s)
	}

	f.subjects[s] = true

	return f.saveErr
}

func (f *fakeTracker) RemoveSubject(_ context.Context, s string) error {
	delete(f.subjects, s)

	return nil
}

func (f *fakeTracker) Subjects() []string {
	res := make([]string, 0, len(f.subjects))
	for s := range f.subjects {
		res = append(res, s)
	}

	sort.Strings(res)

	return res
}

func (f *fakeTracker) History(limit int) []*model.EnrichedTransaction {
	if limit > 0 && limit < len(f.history) {
		return f.history[:limit]
	}

	return f.history
}

func (f *fakeTracker) Status() tracker.Status {
	return tracker.Status{Net: "solana", State: stream.Open, Subjects: len(f.subjects)}
}

func (f *fakeTracker) FilterLists() model.FilterLists { return f.lists }

func (f *fakeTracker) AllowProgram(_ context.Context, p string) error {
	f.lists.Allowlist = append(f.lists.Allowlist, p)

	return nil
}

func (f *fakeTracker) DisallowProgram(context.Context, string) error {
	f.lists.Allowlist = nil

	return nil
}

func (f *fakeTracker) DenyAddress(_ context.Context, a string) error {
	f.lists.Denylist = append(f.lists.Denylist, a)

	return nil
}

func (f *fakeTracker) UndenyAddress(context.Context, string) error {
	f.lists.Denylist = nil

	return nil
}

// do runs a request and decodes the envelope, keeping the body raw.
func do(t *testing.T, a *API, method, target string) (int, json.RawMessage, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))

	var res struct {
		Body  json.RawMessage `json:"body"`
		Error string          `json:"error"`
	}

	if rec.Code != http.StatusMethodNotAllowed && rec.Code != http.StatusNotFound {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
		assert.Equal(t, "application/json;charset=utf8", rec.Header().Get("Content-Type"))
	}

	return rec.Code, res.Body, res.Error
}

func TestHome(t *testing.T) {
	code, body, _ := do(t, New(newFakeTracker()), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "solana")
}

func TestSubjects(t *testing.T) {
	ft := newFakeTracker()
	a := New(ft)

	code, _, _ := do(t, a, http.MethodPut, "/subjects/alice")
	assert.Equal(t, http.StatusOK, code)

	do(t, a, http.MethodPut, "/subjects/bob")

	code, body, _ := do(t, a, http.MethodGet, "/subjects")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["alice","bob"]`, string(body))

	code, _, _ = do(t, a, http.MethodDelete, "/subjects/alice")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"bob"}, ft.Subjects())

	code, _, msg := do(t, a, http.MethodPut, "/subjects/bad")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, msg, "invalid subject")

	ft.saveErr = errors.New("db down")
	code, _, msg = do(t, a, http.MethodPut, "/subjects/carol")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "db down", msg)

	code, _, _ = do(t, a, http.MethodPost, "/subjects/carol")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestEvents(t *testing.T) {
	ft := newFakeTracker()
	for _, id := range []string{"c", "b", "a"} {
		ft.history = append(ft.history, &model.EnrichedTransaction{NormalizedTransaction: model.NormalizedTransaction{ID: id}})
	}

	a := New(ft)

	code, body, _ := do(t, a, http.MethodGet, "/events?limit=2")
	require.Equal(t, http.StatusOK, code)

	var txs []model.EnrichedTransaction
	require.NoError(t, json.Unmarshal(body, &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "c", txs[0].ID)

	_, body, _ = do(t, a, http.MethodGet, "/events")
	require.NoError(t, json.Unmarshal(body, &txs))
	assert.Len(t, txs, 3)

	for _, bad := range []string{"0", "-1", "x"} {
		code, _, _ = do(t, a, http.MethodGet, "/events?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, code, bad)
	}
}

func TestStatus(t *testing.T) {
	ft := newFakeTracker()
	a := New(ft,
		WithCredentials(func() []credential.Status { return []credential.Status{{Token: "abc***xyz"}} }),
		WithCache(func() enrich.Stats { return enrich.Stats{Hits: 3} }))

	code, body, _ := do(t, a, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, code)

	var st struct {
		Net         string              `json:"net"`
		State       string              `json:"state"`
		Credentials []credential.Status `json:"credentials"`
		Cache       enrich.Stats        `json:"cache"`
	}

	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "solana", st.Net)
	assert.Equal(t, "open", st.State)
	require.Len(t, st.Credentials, 1)
	assert.Equal(t, "abc***xyz", st.Credentials[0].Token)
	assert.Equal(t, uint64(3), st.Cache.Hits)
}

func TestConnect(t *testing.T) {
	ft := newFakeTracker()
	a := New(ft)

	ft.connectErr = errors.New("dial refused")
	code, _, _ := do(t, a, http.MethodPost, "/connect")
	assert.Equal(t, http.StatusAccepted, code)

	ft.connectErr = stream.ErrNoCredentials
	code, _, msg := do(t, a, http.MethodPost, "/connect")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, msg, "no credentials")
	assert.Equal(t, 2, ft.connects)
}

func TestFilter(t *testing.T) {
	ft := newFakeTracker()
	a := New(ft)

	do(t, a, http.MethodPut, "/filter/allow/prog")
	do(t, a, http.MethodPut, "/filter/deny/mallory")

	code, body, _ := do(t, a, http.MethodGet, "/filter")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"allowlist":["prog"],"denylist":["mallory"]}`, string(body))

	do(t, a, http.MethodDelete, "/filter/allow/prog")
	_, body, _ = do(t, a, http.MethodDelete, "/filter/deny/mallory")
	assert.JSONEq(t, `{"allowlist":null,"denylist":null}`, string(body))
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no servers configured, returns once ctx is done
	assert.NoError(t, New(newFakeTracker()).Serve(ctx, "", "", "", "", ""))
}
