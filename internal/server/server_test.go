package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tdprio/internal/catalog"
	"tdprio/internal/config"
	"tdprio/internal/db"
	"tdprio/internal/engine"
	"tdprio/internal/migrate"
	tdpriosdk "tdprio/sdk/go"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	SDK    *tdpriosdk.Client
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")
	cfg := config.Default()
	cfg.Experiment.MaxSimulations = 3
	e := engine.New(conn, cfg, catalog.New(), zap.NewNop())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Version: "test"})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	url := "http://" + ln.Addr().String()
	return &testServer{URL: url, Engine: e, SDK: tdpriosdk.New(url)}
}

func get(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *tdpriosdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(apiErr.Body), &env), apiErr.Body)
	return apiErr.StatusCode, env.Error.Code
}

func TestHealthAndDatasets(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()

	res, body := get(t, srv.URL+"/v0/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, string(body))

	items, err := srv.SDK.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "big", items[0].Name)
	assert.Equal(t, "default", items[1].Name)
	assert.Equal(t, 4, items[1].Items)
	assert.Equal(t, 2.0, items[1].OpenEffort)

	ds, err := srv.SDK.GetDataset(ctx, "small")
	require.NoError(t, err)
	assert.Len(t, ds.Items, 5)
	assert.Contains(t, ds.Metrics, "rem_eff_rel")

	_, err = srv.SDK.GetDataset(ctx, "huge")
	status, code := errorCode(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_dataset", code)
}

func TestEvaluatePlan(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()

	plan, err := srv.SDK.EvaluatePlan(ctx, "default", []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, plan.IDs)
	assert.InDelta(t, 111.0/264+5/5.01-0.7*(2/5.5), plan.Reward, 1e-12)
	assert.Equal(t, 222.0, plan.Metrics["lines_of_code"])

	_, err = srv.SDK.EvaluatePlan(ctx, "default", []int{0, 1})
	status, code := errorCode(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_state", code)

	_, err = srv.SDK.EvaluatePlan(ctx, "default", []int{0, 7})
	status, code = errorCode(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "index_out_of_range", code)

	_, err = srv.SDK.EvaluatePlan(ctx, "default", []int{})
	status, _ = errorCode(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	res, body := get(t, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `tdprio_plan_reward_count{dataset="default",source="plan"}`)
}

func TestSweepLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()
	seed := int64(5)

	s, err := srv.SDK.RunSweep(ctx, tdpriosdk.SweepRequest{Dataset: "default", Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxSimulations)
	require.Len(t, s.Runs, 3)
	require.NotNil(t, s.Best)

	got, err := srv.SDK.GetSweep(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Runs, got.Runs)

	trend, err := srv.SDK.SweepTrend(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, trend.Simulations)
	require.Len(t, trend.Positions, 4)
	assert.Equal(t, s.Runs[2].Order[0], trend.Positions[0][2])

	list, err := srv.SDK.ListSweeps(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Runs)

	evts, err := srv.SDK.Events(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "sweep.completed", evts[0].Type)
	assert.Equal(t, s.ID, evts[0].EntityID)

	require.NoError(t, srv.SDK.DeleteSweep(ctx, s.ID))
	_, err = srv.SDK.GetSweep(ctx, s.ID)
	status, code := errorCode(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", code)

	_, err = srv.SDK.SweepTrend(ctx, s.ID)
	status, _ = errorCode(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOpenAPISpec(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, body := get(t, srv.URL+"/v0/openapi.json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &oas))
	for _, p := range []string{"/v0/datasets", "/v0/plans/evaluate", "/v0/sweeps/{id}/trend"} {
		assert.Contains(t, oas.Paths, p)
	}

	res, body = get(t, srv.URL+"/docs", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "/v0/openapi.json")
}

func TestOpenAPISpecConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	const workers = 8
	bodies := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies[i] = string(data)
		}(i)
	}
	wg.Wait()
	require.NotEmpty(t, bodies[0])
	for i := 1; i < workers; i++ {
		assert.Equal(t, bodies[0], bodies[i], "worker %d", i)
	}
}

func TestBearerAuth(t *testing.T) {
	const secret = "s3cret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	ctx := context.Background()

	res, _ := get(t, srv.URL+"/v0/health", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	_, err := srv.SDK.ListDatasets(ctx)
	status, code := errorCode(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ci"}).SignedString([]byte("other"))
	require.NoError(t, err)
	srv.SDK.BearerToken = forged
	_, err = srv.SDK.ListDatasets(ctx)
	status, code = errorCode(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ci"},
		Roles:            []string{"analyst"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	srv.SDK.BearerToken = token
	items, err := srv.SDK.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		secrets = append(secrets, r.Header.Get("X-Tdprio-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()
	srv.Engine.Config.Server.Webhooks = []config.Webhook{{URL: hook.URL, Secret: "shh", Events: []string{"sweep.completed"}}}
	d := newWebhookDispatcher(srv.Engine)

	// First poll pins the cursor to the current end of the log.
	d.dispatchAll(ctx)

	s, err := srv.Engine.RunSweep(ctx, engine.SweepOptions{MaxSimulations: 1})
	require.NoError(t, err)
	require.NoError(t, srv.Engine.DeleteSweep(ctx, s.ID))
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "sweep.completed", received[0].Type)
	assert.Equal(t, s.ID, received[0].EntityID)
	assert.Equal(t, []string{"shh"}, secrets)

	latest, err := srv.Engine.Repo.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, d.cursors[0])
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" "}).match("anything"))
	f := newEventFilter([]string{"sweep.completed"})
	assert.True(t, f.match("sweep.completed"))
	assert.False(t, f.match("sweep.deleted"))
}
