package experiment

import (
	"context"
	"sync"
	"time"

	"attentrack/internal/event"
)

type recordingEmitter struct {
	mu  sync.Mutex
	out []event.Outbound
}

func (e *recordingEmitter) Emit(name event.Name, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, event.Outbound{Event: name, Data: payload})
}

func (e *recordingEmitter) named(name event.Name) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var res []any
	for _, o := range e.out {
		if o.Event == name {
			res = append(res, o.Data)
		}
	}
	return res
}

type fakeScheduler struct {
	armed     map[AttemptID]time.Duration
	cancelled []AttemptID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[AttemptID]time.Duration)}
}

func (s *fakeScheduler) Arm(id AttemptID, after time.Duration) { s.armed[id] = after }

func (s *fakeScheduler) Cancel(id AttemptID) {
	s.cancelled = append(s.cancelled, id)
	delete(s.armed, id)
}

type fakeRecorder struct {
	err      error
	records  []PhaseRecord
	analyses []Analysis
}

func (r *fakeRecorder) PersistPhaseRecord(_ context.Context, rec PhaseRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) PersistAnalysis(_ context.Context, a Analysis) error {
	if r.err != nil {
		return r.err
	}
	r.analyses = append(r.analyses, a)
	return nil
}

type fakeIndicator struct {
	states []bool
}

func (i *fakeIndicator) Set(on bool) { i.states = append(i.states, on) }

type harness struct {
	ctrl  *Controller
	emit  *recordingEmitter
	sched *fakeScheduler
	rec   *fakeRecorder
	ind   *fakeIndicator
	t0    time.Time
}

func newHarness() *harness {
	return newHarnessWith(DefaultSettings())
}

func newHarnessWith(settings Settings) *harness {
	h := &harness{
		emit:  &recordingEmitter{},
		sched: newFakeScheduler(),
		rec:   &fakeRecorder{},
		ind:   &fakeIndicator{},
		t0:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	h.ctrl = NewController("test-session", settings, Deps{
		Emitter:   h.emit,
		Scheduler: h.sched,
		Recorder:  h.rec,
		Indicator: h.ind,
	})
	return h
}

func (h *harness) at(ms int) time.Time {
	return h.t0.Add(time.Duration(ms) * time.Millisecond)
}

// hold feeds samples at (x, y) every 100ms over [fromMs, toMs].
func (h *harness) hold(x, y float64, fromMs, toMs int) {
	for ms := fromMs; ms <= toMs; ms += 100 {
		h.ctrl.Gaze(context.Background(), x, y, h.at(ms))
	}
}

var (
	square    = Region{XMin: 0, XMax: 100, YMin: 0, YMax: 100}
	farSquare = Region{XMin: 200, XMax: 300, YMin: 0, YMax: 100}
)
