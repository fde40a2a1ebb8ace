package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"attentrack/internal/experiment"

	"go.uber.org/zap"
)

// --- Command Types ---

type StartCmd struct {
	Config experiment.Config
}

type GazeCmd struct {
	X, Y float64
}

type SelectCmd struct {
	Answer int
}

type PhaseTimeoutCmd struct{}

// closeCmd is queued behind every event already received so those are
// handled before the session goes away.
type closeCmd struct{}

// Info is a point-in-time description of a live session.
type Info struct {
	ID          string            `json:"id"`
	ConnectedAt time.Time         `json:"connected_at"`
	Status      experiment.Status `json:"status"`
}

// Session owns one participant's Controller. Every inbound event and every
// fired deadline is handled on the session's own goroutine, one at a time.
type Session struct {
	id          string
	connectedAt time.Time
	ctrl        *experiment.Controller
	deadlines   *deadlines

	inbox  chan interface{}
	status atomic.Pointer[experiment.Status]
	now    func() time.Time
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSession(parent context.Context, id string, emitter experiment.Emitter, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:          id,
		connectedAt: time.Now(),
		inbox:       make(chan interface{}, 64),
		now:         time.Now,
		log:         opts.Logger.With(zap.String("session_id", id)),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.deadlines = newDeadlines(ctx)

	var rec experiment.Recorder
	if opts.Recorder != nil {
		rec = timeoutRecorder{rec: opts.Recorder, timeout: opts.PersistTimeout}
	}
	s.ctrl = experiment.NewController(id, opts.Settings, experiment.Deps{
		Emitter:   emitter,
		Scheduler: s.deadlines,
		Recorder:  rec,
		Indicator: opts.Indicator,
		Logger:    opts.Logger,
	})
	s.publishStatus()
	return s
}

func (s *Session) ID() string { return s.id }

// Status is safe to call from any goroutine.
func (s *Session) Status() experiment.Status {
	return *s.status.Load()
}

func (s *Session) Info() Info {
	return Info{ID: s.id, ConnectedAt: s.connectedAt, Status: s.Status()}
}

// Send queues one command. It reports false once the session has stopped.
func (s *Session) Send(cmd interface{}) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close asks the session to stop after draining what it already received.
func (s *Session) Close() {
	s.once.Do(func() {
		if !s.Send(closeCmd{}) {
			s.cancel()
		}
	})
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	defer s.log.Debug("Session loop stopped")

	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return

		case cmd := <-s.inbox:
			if _, ok := cmd.(closeCmd); ok {
				s.teardown()
				return
			}
			s.handleCommand(cmd)

		case id := <-s.deadlines.fired:
			s.ctrl.DeadlineFired(s.ctx, id, s.now())
		}
		s.publishStatus()
	}
}

func (s *Session) handleCommand(cmd interface{}) {
	now := s.now()
	switch c := cmd.(type) {
	case StartCmd:
		if err := s.ctrl.Start(s.ctx, c.Config, now); err != nil {
			s.log.Info("Start rejected", zap.Error(err))
		}
	case GazeCmd:
		s.ctrl.Gaze(s.ctx, c.X, c.Y, now)
	case SelectCmd:
		s.ctrl.Select(s.ctx, c.Answer, now)
	case PhaseTimeoutCmd:
		s.ctrl.PhaseTimeout(s.ctx, now)
	default:
		s.log.Warn("Unknown command received in session", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
}

// teardown drops the in-flight attempt and every pending deadline. Nothing is
// persisted for a phase that did not complete.
func (s *Session) teardown() {
	s.ctrl.Abort()
	s.deadlines.stopAll()
	s.cancel()
	s.log.Info("Session closed", zap.Stringer("phase", s.ctrl.Phase()))
}

func (s *Session) publishStatus() {
	st := s.ctrl.Status()
	s.status.Store(&st)
}

// deadlines is the session's omission timer set. Arm and Cancel run on the
// session goroutine; fired IDs come back through the fired channel.
type deadlines struct {
	ctx    context.Context
	fired  chan experiment.AttemptID
	timers map[experiment.AttemptID]*time.Timer
}

func newDeadlines(ctx context.Context) *deadlines {
	return &deadlines{
		ctx:    ctx,
		fired:  make(chan experiment.AttemptID, 1),
		timers: make(map[experiment.AttemptID]*time.Timer),
	}
}

func (d *deadlines) Arm(id experiment.AttemptID, after time.Duration) {
	d.Cancel(id)
	d.timers[id] = time.AfterFunc(after, func() {
		select {
		case d.fired <- id:
		case <-d.ctx.Done():
		}
	})
}

func (d *deadlines) Cancel(id experiment.AttemptID) {
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
}

func (d *deadlines) stopAll() {
	for id := range d.timers {
		d.Cancel(id)
	}
}

// timeoutRecorder bounds every store call by the configured persist timeout.
type timeoutRecorder struct {
	rec     experiment.Recorder
	timeout time.Duration
}

func (r timeoutRecorder) PersistPhaseRecord(ctx context.Context, rec experiment.PhaseRecord) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rec.PersistPhaseRecord(ctx, rec)
}

func (r timeoutRecorder) PersistAnalysis(ctx context.Context, a experiment.Analysis) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.rec.PersistAnalysis(ctx, a)
}

func (r timeoutRecorder) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
