package dialsense

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	return cmd, &out
}

func fastPolls(t *testing.T) {
	t.Helper()
	prev := pollInterval
	pollInterval = time.Millisecond
	t.Cleanup(func() { pollInterval = prev })
}

// fakeAPI answers initiate with an initiated call and walks the status
// endpoint through statuses, repeating the last one.
func fakeAPI(t *testing.T, statuses []call.Status, result *amd.Classification) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	id := uuid.New()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/calls/initiate", func(w http.ResponseWriter, r *http.Request) {
		var req dialRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.TargetNumber == "bad" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid phone number"}`))
			return
		}
		assert.True(t, req.Demo)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(call.Call{ID: id, TargetNumber: req.TargetNumber, Strategy: amd.MLModel, Status: call.StatusInitiated})
	})
	mux.HandleFunc("GET /api/calls/{callID}/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, id.String(), r.PathValue("callID"))
		n := int(polls.Add(1))
		st := statuses[min(n, len(statuses))-1]
		c := call.Call{ID: id, TargetNumber: "+14155550123", Strategy: amd.MLModel, Status: st}
		if st == call.StatusCompleted {
			c.Result = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestDial_PollsUntilTerminal(t *testing.T) {
	fastPolls(t)
	human := amd.Human
	srv, polls := fakeAPI(t, []call.Status{call.StatusRinging, call.StatusAnalyzing, call.StatusCompleted}, &human)

	c, err := dial(context.Background(), &bytes.Buffer{}, srv.URL, dialRequest{TargetNumber: "+14155550123", UserID: "u", Demo: true})

	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, c.Status)
	require.NotNil(t, c.Result)
	assert.Equal(t, amd.Human, *c.Result)
	assert.Equal(t, int32(3), polls.Load())
}

func TestDial_GivesUpAfterMaxPolls(t *testing.T) {
	fastPolls(t)
	srv, polls := fakeAPI(t, []call.Status{call.StatusRinging}, nil)

	c, err := dial(context.Background(), &bytes.Buffer{}, srv.URL, dialRequest{TargetNumber: "+14155550123", UserID: "u", Demo: true})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 60 polls")
	assert.Equal(t, call.StatusRinging, c.Status)
	assert.Equal(t, int32(maxPolls), polls.Load())
}

func TestDial_InitiateError(t *testing.T) {
	fastPolls(t)
	srv, _ := fakeAPI(t, []call.Status{call.StatusCompleted}, nil)

	c, err := dial(context.Background(), &bytes.Buffer{}, srv.URL, dialRequest{TargetNumber: "bad", UserID: "u", Demo: true})

	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid phone number")
}

func TestRunDial_PrintsCall(t *testing.T) {
	fastPolls(t)
	machine := amd.Machine
	srv, _ := fakeAPI(t, []call.Status{call.StatusCompleted}, &machine)
	dialServer, dialUser, dialReal = srv.URL, "u", false

	cmd, out := newTestCommand()
	require.NoError(t, runDial(cmd, []string{"+14155550123"}))

	assert.Contains(t, out.String(), "Status:   completed")
	assert.Contains(t, out.String(), "Result:   MACHINE")
}

func resetCompareFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		compareStrategies, compareAudio, compareServer, compareJSON = nil, "", "", false
		configPath = ""
	})
}

func TestCompare_Local(t *testing.T) {
	resetCompareFlags(t)
	dir := t.TempDir()
	configPath = filepath.Join(dir, "dialsense.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
amd:
  latencies:
    provider-native: 1ms
    sip-enhanced: 1ms
    ml-model: 1ms
    llm-based: 1ms
`), 0o644))
	t.Setenv("GOOGLE_API_KEY", "")
	compareJSON = true

	cmd, out := newTestCommand()
	require.NoError(t, runCompare(cmd, nil))

	var report amd.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 4, report.TotalStrategies)
	require.Len(t, report.Breakdown, 4)
	for _, b := range report.Breakdown {
		assert.GreaterOrEqual(t, b.Confidence, 0.0)
		assert.LessOrEqual(t, b.Confidence, 1.0)
	}
}

func TestCompare_Remote(t *testing.T) {
	resetCompareFlags(t)
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/amd/compare", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(amd.Report{
			TotalStrategies: 1,
			Majority:        amd.Human,
			MeanConfidence:  0.9,
			Breakdown:       []amd.Breakdown{{Strategy: "provider-native", Result: amd.Human, Confidence: 0.9, LatencyMS: 1000}},
		})
	}))
	t.Cleanup(srv.Close)

	compareServer = srv.URL
	compareStrategies = []string{"twilio-native"}

	cmd, out := newTestCommand()
	require.NoError(t, runCompare(cmd, nil))

	assert.Equal(t, []any{"twilio-native"}, got["strategies"])
	assert.Contains(t, out.String(), "CONSENSUS HUMAN")
	assert.Contains(t, out.String(), "provider-native")
}

func TestCompare_RemoteError(t *testing.T) {
	resetCompareFlags(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"amd: no strategies to run"}`))
	}))
	t.Cleanup(srv.Close)
	compareServer = srv.URL

	cmd, _ := newTestCommand()
	err := runCompare(cmd, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no strategies")
}

func TestCompare_MissingAudio(t *testing.T) {
	resetCompareFlags(t)
	compareAudio = filepath.Join(t.TempDir(), "missing.wav")

	cmd, _ := newTestCommand()
	err := runCompare(cmd, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read audio sample")
}

func TestVersionCommand(t *testing.T) {
	cmd, out := newTestCommand()
	versionCmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "dialsense dev")
	assert.Contains(t, out.String(), "commit: none")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "compare", "dial", "version"})
}

func TestMigrate_SQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Cleanup(func() { configPath, migrateDown = "", false })

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "calls.db")
	configPath = filepath.Join(dir, "dialsense.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  driver: sqlite\n  url: "+dbPath+"\n"), 0o644))

	cmd, out := newTestCommand()
	require.NoError(t, runMigrate(cmd, nil))
	assert.Contains(t, out.String(), "SQLite migrations applied to "+dbPath)
	assert.FileExists(t, dbPath)

	migrateDown = true
	err := runMigrate(cmd, nil)
	assert.ErrorContains(t, err, "only supported for PostgreSQL")
}

func TestMigrate_Memory(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_DRIVER", "")

	cmd, out := newTestCommand()
	require.NoError(t, runMigrate(cmd, nil))
	assert.Contains(t, out.String(), "in-memory store needs no migrations")
}
