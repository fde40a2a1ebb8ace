package app

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"attentrack/internal/config"
	"attentrack/internal/experiment"
	"attentrack/internal/ipc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	d := experiment.DefaultSettings()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:        "127.0.0.1:0",
			SocketPath:     filepath.Join(dir, "at.sock"),
			AllowedOrigins: []string{"*"},
		},
		Storage: config.StorageConfig{
			Driver:         "sqlite",
			SQLitePath:     filepath.Join(dir, "test_attentrack.db"),
			PersistTimeout: time.Second,
		},
		Experiment: config.ExperimentConfig{
			SuccessDuration:       d.SuccessDuration,
			OmissionWindow:        d.OmissionWindow,
			DividedOmissionWindow: d.DividedOmissionWindow,
			SelectiveRounds:       d.DefaultRounds,
		},
	}
	a, err := NewApp(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.registry.Shutdown()
		assert.NoError(t, a.cleanup())
	})
	return a
}

func TestNewStorageRejectsUnknownDriver(t *testing.T) {
	_, err := newStorage(config.StorageConfig{Driver: "cassandra"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestPingAndUnknownCommand(t *testing.T) {
	a := setupApp(t)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdPing})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	resp = a.processCommand(ipc.Command{Name: "reset_everything"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Unknown command")
}

func TestGetStatus(t *testing.T) {
	a := setupApp(t)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdGetStatus})
	require.True(t, resp.Success)
	status, ok := resp.Data.(ipc.StatusData)
	require.True(t, ok)
	assert.Equal(t, "sqlite", status.Driver)
	assert.Empty(t, status.Sessions)
	assert.Equal(t, 0, status.Clients)
}

func TestGetAnalysis(t *testing.T) {
	a := setupApp(t)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdGetAnalysis, Args: map[string]interface{}{}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "cannot be empty")

	resp = a.processCommand(ipc.Command{Name: ipc.CmdGetAnalysis, Args: ipc.GetAnalysisArgs{SessionID: "nobody"}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "No analysis stored")

	stored := experiment.Analysis{
		SessionID:  "s1",
		AnalyzedAt: time.Now().UTC().Truncate(time.Second),
		Summary:    experiment.Metrics{Hits: 3, OmissionErrors: 1},
	}
	require.NoError(t, a.storage.PersistAnalysis(context.Background(), stored))

	resp = a.processCommand(ipc.Command{Name: ipc.CmdGetAnalysis, Args: map[string]interface{}{"session_id": "s1"}})
	require.True(t, resp.Success, resp.Message)
	got, ok := resp.Data.(experiment.Analysis)
	require.True(t, ok)
	assert.Equal(t, 3, got.Summary.Hits)
	assert.Equal(t, 1, got.Summary.OmissionErrors)
}

func TestListAnalyses(t *testing.T) {
	a := setupApp(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, a.storage.PersistAnalysis(ctx, experiment.Analysis{SessionID: "old", AnalyzedAt: now.Add(-time.Hour)}))
	require.NoError(t, a.storage.PersistAnalysis(ctx, experiment.Analysis{SessionID: "new", AnalyzedAt: now}))

	resp := a.processCommand(ipc.Command{Name: ipc.CmdListAnalyses, Args: map[string]interface{}{"limit": 1}})
	require.True(t, resp.Success, resp.Message)
	list, ok := resp.Data.([]experiment.Analysis)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].SessionID)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdListAnalyses, Args: "ten"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Invalid args")
}

func TestSetIndicatorWithoutDevice(t *testing.T) {
	a := setupApp(t)

	resp := a.processCommand(ipc.Command{Name: ipc.CmdSetIndicator, Args: ipc.SetIndicatorArgs{On: true}})
	assert.True(t, resp.Success)
	assert.Equal(t, "Indicator on", resp.Message)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdSetIndicator, Args: ipc.SetIndicatorArgs{Text: "BEEP"}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Indicator write failed")
}

func TestSocketRoundTrip(t *testing.T) {
	a := setupApp(t)

	// A leftover file nobody listens on is removed.
	require.NoError(t, os.WriteFile(a.socketPath, nil, 0600))
	require.NoError(t, a.setupSocket())

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.listenForCommands()
	}()

	conn, err := net.DialTimeout("unix", a.socketPath, time.Second)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(conn).Encode(ipc.Command{Name: ipc.CmdPing}))
	var resp ipc.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	conn.Close()
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	// A second instance refuses to take over a live socket.
	other := &App{socketPath: a.socketPath, log: zap.NewNop()}
	assert.ErrorContains(t, other.setupSocket(), "already active")

	a.cancel()
	require.NoError(t, a.listener.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	a.wg.Wait()
}

func TestRelayLineDropsWhenBusy(t *testing.T) {
	a := setupApp(t)
	for i := 0; i < cap(a.lines)+5; i++ {
		a.relayLine("BUTTON_PRESSED")
	}
	assert.Len(t, a.lines, cap(a.lines))
}
