package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attentrack/internal/config"
	"attentrack/internal/indicator"
	"attentrack/internal/ipc"
	"attentrack/internal/session"
	"attentrack/internal/storage"
	"attentrack/internal/transport"

	mongostore "attentrack/internal/storage/mongo"
	redisstore "attentrack/internal/storage/redis"
	sqlitestore "attentrack/internal/storage/sqlite"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	initTimeout     = 10 * time.Second
	commandTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	storage    storage.Storage
	device     indicator.Device
	registry   *session.Registry
	server     *transport.Server
	httpServer *http.Server

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// Lines read back from the indicator and reloaded configurations are
	// handled on the main loop.
	lines   chan string
	reloads chan *config.Config

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config, log *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		log:        log,
		socketPath: cfg.Server.SocketPath,
		lines:      make(chan string, 50),
		reloads:    make(chan *config.Config, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.SocketPath
	}

	store, err := newStorage(cfg.Storage, log)
	if err != nil {
		cancel()
		return nil, err
	}
	initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
	defer initCancel()
	if err := store.Init(initCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.storage = store

	a.device, err = indicator.OpenSerial(cfg.Serial, a.relayLine, log)
	if err != nil {
		log.Warn("Failed to open indicator device. Indicator disabled.", zap.Error(err))
		a.device = indicator.Noop{}
	}

	a.registry = session.NewRegistry(session.Options{
		Settings:       cfg.Settings(),
		Recorder:       a.storage,
		Indicator:      a.device,
		PersistTimeout: cfg.Storage.PersistTimeout,
		Logger:         log.Named("session"),
	})
	a.server = transport.NewServer(transport.Options{
		Registry:       a.registry,
		Store:          a.storage,
		Indicator:      a.device,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})
	a.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           a.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newStorage picks the backend named by cfg.Driver.
func newStorage(cfg config.StorageConfig, log *zap.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlitestore.NewSQLiteStore(cfg.SQLitePath, log), nil
	case "mongo":
		return mongostore.NewMongoStore(cfg.MongoURI, cfg.MongoDatabase, log), nil
	case "redis":
		return redisstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// relayLine runs on the indicator's read goroutine and must not block it.
func (a *App) relayLine(line string) {
	select {
	case a.lines <- line:
	default:
		a.log.Warn("Indicator line dropped, main loop busy", zap.String("line", line))
	}
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		a.log.Info("Stale socket file found, removing", zap.String("path", a.socketPath))
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	a.log.Info("Listening for commands", zap.String("socket", a.socketPath))
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer a.log.Info("Socket command listener stopped")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			a.log.Warn("Failed to accept connection", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			a.log.Warn("Failed to decode command", zap.Error(err))
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	a.log.Debug("Received command", zap.String("command", cmd.Name))

	response := a.processCommand(cmd)
	if err := encoder.Encode(response); err != nil {
		a.log.Warn("Failed to send response", zap.Error(err))
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdGetStatus:
		return ipc.Response{Success: true, Data: ipc.StatusData{
			Sessions: a.registry.List(),
			Clients:  a.server.ClientCount(),
			Driver:   a.cfg.Storage.Driver,
		}}

	case ipc.CmdGetAnalysis:
		var args ipc.GetAnalysisArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.SessionID == "" {
			return ipc.Response{Success: false, Message: "Session id cannot be empty"}
		}
		ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
		defer cancel()
		analysis, err := a.storage.GetAnalysis(ctx, args.SessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return ipc.Response{Success: false, Message: fmt.Sprintf("No analysis stored for session %s", args.SessionID)}
		}
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to load analysis: %v", err)}
		}
		return ipc.Response{Success: true, Data: analysis}

	case ipc.CmdListAnalyses:
		var args ipc.ListAnalysesArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
		defer cancel()
		list, err := a.storage.ListAnalyses(ctx, args.Limit)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to list analyses: %v", err)}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("%d analyses", len(list)), Data: list}

	case ipc.CmdSetIndicator:
		var args ipc.SetIndicatorArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Text != "" {
			if err := a.device.Write(args.Text); err != nil {
				return ipc.Response{Success: false, Message: fmt.Sprintf("Indicator write failed: %v", err)}
			}
			return ipc.Response{Success: true, Message: fmt.Sprintf("Sent '%s' to indicator", args.Text)}
		}
		a.device.Set(args.On)
		state := "off"
		if args.On {
			state = "on"
		}
		return ipc.Response{Success: true, Message: "Indicator " + state}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

// Run blocks until SIGINT/SIGTERM or a fatal server error, then shuts every
// component down.
func (a *App) Run() (err error) {
	defer func() { err = multierr.Append(err, a.cleanup()) }()

	a.log.Info("Starting attentrack",
		zap.String("address", a.cfg.Server.Address),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.Bool("indicator", a.cfg.Serial.Port != ""),
	)

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()

	a.wg.Go(a.mainLoop)
	a.wg.Go(a.listenForCommands)
	a.wg.Go(a.serveHTTP)

	a.cfg.Watch(
		func(next *config.Config) {
			select {
			case a.reloads <- next:
			default:
				a.log.Warn("Config reload skipped, previous reload still pending")
			}
		},
		func(err error) { a.log.Error("Config reload failed", zap.Error(err)) },
	)

	a.log.Info("attentrack running. Participants connect over WebSocket; operators use attentrack-cli.")
	<-a.ctx.Done()

	a.log.Info("Shutdown signal received, waiting for components...")

	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.log.Warn("Error closing socket listener", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("HTTP server shutdown", zap.Error(err))
	}
	a.server.CloseAll()
	a.registry.Shutdown()

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		a.log.Info("All application goroutines finished")
	case <-time.After(shutdownTimeout):
		a.log.Warn("Timeout waiting for application goroutines to stop")
	}
	return nil
}

func (a *App) serveHTTP() {
	a.log.Info("HTTP server listening", zap.String("address", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("HTTP server failed", zap.Error(err))
		a.cancel()
	}
}

// mainLoop relays indicator lines to clients and applies config reloads.
func (a *App) mainLoop() {
	defer a.log.Info("Main application loop stopped")

	for {
		select {
		case <-a.ctx.Done():
			return
		case line := <-a.lines:
			a.server.IndicatorLine(line)
		case next := <-a.reloads:
			a.applyConfig(next)
		}
	}
}

// applyConfig takes over the experiment timing from a reloaded file. Every
// other section needs a restart.
func (a *App) applyConfig(next *config.Config) {
	for _, w := range next.Warnings {
		a.log.Warn(w)
	}
	a.registry.SetSettings(next.Settings())
	a.log.Info("Experiment settings reloaded",
		zap.Duration("success_duration", next.Experiment.SuccessDuration),
		zap.Duration("omission_window", next.Experiment.OmissionWindow),
		zap.Duration("divided_omission_window", next.Experiment.DividedOmissionWindow),
	)
	if next.Server.Address != a.cfg.Server.Address || next.Storage.Driver != a.cfg.Storage.Driver {
		a.log.Warn("Server and storage changes take effect after restart")
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			a.log.Info("Received signal, initiating shutdown", zap.String("signal", sig.String()))
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Stop requests shutdown; Run returns once components have stopped.
func (a *App) Stop() { a.cancel() }

func (a *App) cleanup() error {
	a.log.Info("Running cleanup...")
	a.cancel()

	var err error
	if a.device != nil {
		err = multierr.Append(err, a.device.Close())
	}
	if a.storage != nil {
		err = multierr.Append(err, a.storage.Close())
	}
	if a.listener != nil {
		if _, statErr := os.Stat(a.socketPath); statErr == nil {
			if rmErr := os.Remove(a.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierr.Append(err, fmt.Errorf("remove socket %s: %w", a.socketPath, rmErr))
			}
		}
	}

	if err != nil {
		a.log.Warn("Cleanup finished with errors", zap.Error(err))
	} else {
		a.log.Info("Cleanup finished")
	}
	return err
}
