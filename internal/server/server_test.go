package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/config"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = "0"
	return cfg
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory by default", func(t *testing.T) {
		store, release, err := OpenStore(ctx, config.DatabaseConfig{})
		require.NoError(t, err)
		defer release()

		_, ok := store.(*database.Memory)
		assert.True(t, ok)
	})

	t.Run("sqlite file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calls.db")
		store, release, err := OpenStore(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, URL: path})
		require.NoError(t, err)
		defer release()

		_, ok := store.(*database.SQLite)
		assert.True(t, ok)
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.TwilioConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", PhoneNumber: "+14155550000"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.GeminiAPIKey = "key"

	reg := NewRegistry(cfg, nil)

	assert.ElementsMatch(t, amd.AllStrategies, reg.Strategies())
}

func TestNewMachine_AppliesDenyList(t *testing.T) {
	m := newMachine(config.AMDConfig{DenyList: []string{"+1 (212) 555-0000"}, OverrideConfidence: 0.7})

	assert.True(t, m.Override.Matches("2125550000"))
	assert.False(t, m.Override.Matches("18007742678"))
	assert.InDelta(t, 0.7, m.Override.MinConfidence, 1e-9)

	m = newMachine(config.AMDConfig{})
	assert.True(t, m.Override.Matches("18007742678"), "stock list when none configured")
	assert.Zero(t, m.Override.MinConfidence, "explicit zero floor is kept")

	m = newMachine(config.Default().AMD)
	assert.InDelta(t, call.DefaultMinOverrideConfidence, m.Override.MinConfidence, 1e-9)
}

func TestNewRegistry_ZeroPolicyIsKept(t *testing.T) {
	cfg := testConfig()
	cfg.AMD.Policy = amd.Policy{}
	cfg.AMD.Latencies = map[string]time.Duration{string(amd.ProviderNative): time.Hour}

	reg := NewRegistry(cfg, nil)
	d, ok := reg.Lookup(string(amd.ProviderNative))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := d.Analyze(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, amd.Undecided, out.Result)
	assert.Zero(t, out.Confidence)
}

func TestServer_Handler(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), nil, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"targetNumber":"+14155550123","userId":"u1"}`)
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calls/initiate", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "real calls need twilio credentials")
}

func TestServer_StartShutdown(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), nil, "test")
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL() + "/health")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "ok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, srv.Shutdown(ctx), "second shutdown is a no-op")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), nil, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}
