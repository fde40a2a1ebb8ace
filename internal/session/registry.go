package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"attentrack/internal/experiment"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

var ErrSessionExists = errors.New("session already exists")

// Options are shared by every session the registry opens.
type Options struct {
	Settings       experiment.Settings
	Recorder       experiment.Recorder
	Indicator      experiment.Indicator
	PersistTimeout time.Duration
	Logger         *zap.Logger
}

// Registry owns the live sessions. A session is created when a client
// connects and removed when it disconnects; sessions never see each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     Options

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Open creates and starts the session for id. Outbound notifications go to
// emitter.
func (r *Registry) Open(id string, emitter experiment.Emitter) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, ErrSessionExists
	}
	s := newSession(r.ctx, id, emitter, r.opts)
	r.sessions[id] = s
	r.wg.Go(s.run)
	r.opts.Logger.Info("Session opened", zap.String("session_id", id), zap.Int("live", len(r.sessions)))
	return s, nil
}

// Dispatch routes a command to the session. It reports false for unknown or
// stopped sessions.
func (r *Registry) Dispatch(id string, cmd interface{}) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	return s.Send(cmd)
}

// Close removes the session. Events it already queued are still handled.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the live sessions ordered by connection time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// SetSettings replaces the timing constants used by sessions opened from now
// on. Running sessions keep the settings they started with.
func (r *Registry) SetSettings(s experiment.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Settings = s
}

// Shutdown stops every session and waits for their goroutines to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.opts.Logger.Info("All sessions stopped")
}
