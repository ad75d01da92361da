package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/codex"
	"github.com/roach88/grimoire/internal/config"
	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/store/memstore"
	"github.com/roach88/grimoire/internal/testutil"
)

func named(id, name string, pairs ...doc.Pair) doc.Document {
	return doc.NewDocument(doc.StringID(id), doc.NewObject(append(pairs, doc.O("name", doc.String(name)))...))
}

func newServer(t *testing.T, st *memstore.Store, opts ...app.Option) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter = "1ms", "1ms", 0
	base := []app.Option{
		app.WithIDs(job.NewFixedGenerator("run-1")),
		app.WithPause(func(context.Context, time.Duration) error { return nil }),
	}
	a := app.New(cfg, st, append(base, opts...)...)
	ts := httptest.NewServer(New(a).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestBackupThenRestore(t *testing.T) {
	src := memstore.New()
	src.Seed("bestiary", named("b1", "Owlbear"))
	src.Seed("rules", named("r1", "Flanking"))
	ts := newServer(t, src)

	resp, archiveBytes := do(t, http.MethodPost, ts.URL+"/backup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "2", resp.Header.Get("X-Grimoire-Documents"))
	assert.NotEmpty(t, resp.Header.Get("X-Grimoire-Digest"))

	dst := memstore.New()
	ts2 := newServer(t, dst)
	resp, body := do(t, http.MethodPost, ts2.URL+"/restore?mode=partial", archiveBytes)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "partial", decodeJSON(t, body)["mode"])

	docs, err := dst.Find(context.Background(), "rules", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRestoreBadInput(t *testing.T) {
	ts := newServer(t, memstore.New())

	resp, body := do(t, http.MethodPost, ts.URL+"/restore", []byte("not an archive"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeJSON(t, body)["error"], "request body")

	resp, _ = do(t, http.MethodPost, ts.URL+"/restore?mode=sideways", []byte("{}"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreUnavailable(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.Close())
	ts := newServer(t, st)

	resp, _ := do(t, http.MethodPost, ts.URL+"/integrity/scan", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestScan(t *testing.T) {
	st := memstore.New()
	st.Seed("codex", doc.NewDocument(doc.StringID("monsters"), doc.NewObject(
		doc.O("content", doc.Array{codex.StatblockBlock("e1", "")}),
	)))
	st.Seed("entities", named("e1", "Wolf"), named("e2", "Stray"))
	ts := newServer(t, st)

	resp, body := do(t, http.MethodPost, ts.URL+"/integrity/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	report := decodeJSON(t, body)
	assert.Len(t, report["orphans"], 1)

	resp, _ = do(t, http.MethodPost, ts.URL+"/integrity/scan?orphans=burn", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/integrity/scan?apply=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.EqualValues(t, 1, decodeJSON(t, body)["actions"].(map[string]any)["deleted"])

	resp, body = do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `grimoire_jobs_total{kind="scan",outcome="succeeded"} 2`)
	assert.Contains(t, string(body), `grimoire_integrity_findings{kind="orphan"} 1`)
	assert.Contains(t, string(body), `grimoire_http_requests_total{code="400",route="/integrity/scan"} 1`)
}

func TestDuplicates(t *testing.T) {
	st := memstore.New()
	st.Seed("bestiary", named("b1", "Goblin"), named("b2", "Goblin"))
	ts := newServer(t, st)

	resp, body := do(t, http.MethodGet, ts.URL+"/integrity/duplicates?collection=bestiary&skip_content=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Len(t, decodeJSON(t, body)["names"], 1)

	resp, _ = do(t, http.MethodGet, ts.URL+"/integrity/duplicates?collection=ghosts", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNormalize(t *testing.T) {
	st := memstore.New()
	st.Seed("equipment", named("e-1", "Long Sword"))
	ts := newServer(t, st)

	resp, body := do(t, http.MethodPost, ts.URL+"/normalize?plan=equipment", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var results []map[string]any
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, map[string]any{"e-1": "eq_long_sword"}, results[0]["map"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/normalize?plan=potions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReconcileAndRepair(t *testing.T) {
	st := memstore.New()
	st.Seed("entities", named("h1", "Hero", doc.O("spells", doc.Strings("spell_light"))))
	gen := testutil.NewFakeGenerator(testutil.Items("Light", "Shield")).WithItems(testutil.Items("Light")...)
	ts := newServer(t, st, app.WithGenerator(gen))

	resp, body := do(t, http.MethodPost, ts.URL+"/integrity/repair-links?field=spells&group_size=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.EqualValues(t, 1, decodeJSON(t, body)["resolved"])

	resp, body = do(t, http.MethodPost, ts.URL+"/reconcile/spells?batch_size=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.EqualValues(t, 2, decodeJSON(t, body)["added"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/reconcile/spells?batch_size=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/integrity/repair-links", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/integrity/repair-links?field=feats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ts := newServer(t, memstore.New())
	do(t, http.MethodPost, ts.URL+"/integrity/scan", nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []job.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, job.KindScan, runs[0].Kind)
	assert.Equal(t, job.StateSucceeded, runs[0].State)
}

func TestUnknownRoute(t *testing.T) {
	ts := newServer(t, memstore.New())
	resp, _ := do(t, http.MethodGet, ts.URL+"/backup", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListParam(t *testing.T) {
	q := map[string][]string{"c": {"a, b", "c", ""}}
	assert.Equal(t, []string{"a", "b", "c"}, listParam(q, "c"))
	assert.Empty(t, listParam(q, "missing"))
	assert.True(t, strings.HasPrefix(mustErr(intParam(map[string][]string{"n": {"-1"}}, "n")).Error(), "n:"))
}

func mustErr(_ int, err error) error { return err }
