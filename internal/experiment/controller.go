package experiment

import (
	"context"
	"time"

	"attentrack/internal/event"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deps are the collaborators of a Controller. Recorder, Indicator and Logger
// may be nil.
type Deps struct {
	Emitter   Emitter
	Scheduler Scheduler
	Recorder  Recorder
	Indicator Indicator
	Logger    *zap.Logger
}

// Controller is the state machine of one participant session. It is not safe
// for concurrent use: the owning session feeds it one event at a time.
type Controller struct {
	sessionID string
	settings  Settings

	emit  Emitter
	sched Scheduler
	rec   Recorder
	ind   Indicator
	log   *zap.Logger

	phase  Phase
	cfg    Config
	rounds [][]int

	index     int
	sustained *FocusTracker
	divided   *DualTracker
	evaluator *RoundEvaluator

	focusLog   []FocusEvent
	attempts   []TargetAttempt
	outcomes   []TargetOutcome
	selections []SelectionResult
	live       Aggregator

	omissionErrors  int
	deviationErrors int

	nextID     AttemptID
	lastSample time.Time
}

func NewController(sessionID string, settings Settings, deps Deps) *Controller {
	c := &Controller{
		sessionID: sessionID,
		settings:  settings,
		emit:      deps.Emitter,
		sched:     deps.Scheduler,
		rec:       deps.Recorder,
		ind:       deps.Indicator,
		log:       deps.Logger,
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	if c.ind == nil {
		c.ind = nopIndicator{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.String("session_id", sessionID))
	return c
}

func (c *Controller) Phase() Phase { return c.phase }

func (c *Controller) Status() Status {
	s := Status{
		Phase:           c.phase,
		Target:          c.index,
		OmissionErrors:  c.omissionErrors,
		DeviationErrors: c.deviationErrors,
	}
	if c.phase == PhaseSelective && c.evaluator != nil {
		s.Round = c.evaluator.Round()
	}
	return s
}

// FocusLog returns a copy of the session's focus-event log.
func (c *Controller) FocusLog() []FocusEvent {
	return append([]FocusEvent(nil), c.focusLog...)
}

// Attempts returns a copy of every closed attempt.
func (c *Controller) Attempts() []TargetAttempt {
	return append([]TargetAttempt(nil), c.attempts...)
}

// Metrics is the cumulative statistics snapshot over all phases completed
// so far.
func (c *Controller) Metrics() Metrics {
	m := Tally(c.outcomes)
	m.OmissionErrors = c.omissionErrors
	m.DeviationErrors = c.deviationErrors
	for _, r := range c.roundResults() {
		m.SelectionsCorrect += r.CorrectCount
		m.SelectionsWrong += r.IncorrectCount
	}
	return m
}

func (c *Controller) Analysis(now time.Time) Analysis {
	return Analysis{
		SessionID:  c.sessionID,
		AnalyzedAt: now,
		Summary:    c.Metrics(),
		Outcomes:   append([]TargetOutcome(nil), c.outcomes...),
		Rounds:     c.roundResults(),
	}
}

func (c *Controller) roundResults() []RoundResult {
	if c.evaluator == nil {
		return nil
	}
	return append([]RoundResult(nil), c.evaluator.Results()...)
}

// clamp keeps event time monotonic within the session.
func (c *Controller) clamp(now time.Time) time.Time {
	if now.Before(c.lastSample) {
		return c.lastSample
	}
	c.lastSample = now
	return now
}

// --- Inbound dispatch ---

// Start leaves Idle with the client-supplied configuration. A rejected
// configuration leaves the session untouched.
func (c *Controller) Start(ctx context.Context, cfg Config, now time.Time) error {
	now = c.clamp(now)
	if c.phase != PhaseIdle {
		c.emit.Emit(event.ConfigRejected, ConfigRejectedPayload{Reason: ErrAlreadyStarted.Error()})
		return ErrAlreadyStarted
	}
	if err := cfg.Validate(); err != nil {
		c.log.Warn("Rejected experiment configuration", zap.Error(err))
		c.emit.Emit(event.ConfigRejected, ConfigRejectedPayload{Reason: err.Error()})
		return err
	}

	c.cfg = cfg
	c.rounds = cfg.Rounds
	if c.rounds == nil {
		c.rounds = c.settings.DefaultRounds
	}
	c.log.Info("Configuration received, starting sustained phase",
		zap.Int("targets", len(cfg.Targets)), zap.Int("pairs", len(cfg.Pairs)))

	c.phase = PhaseSustained
	c.index = 0
	c.emit.Emit(event.PhaseStarted, PhaseStartedPayload{Phase: PhaseSustained, Total: len(cfg.Targets)})
	c.openSustained(ctx, now)
	return nil
}

// Gaze feeds one point-of-regard sample to the active phase.
func (c *Controller) Gaze(ctx context.Context, x, y float64, now time.Time) {
	now = c.clamp(now)
	switch c.phase {
	case PhaseSustained:
		c.sustainedGaze(ctx, x, y, now)
	case PhaseDivided:
		c.dividedGaze(ctx, x, y, now)
	}
}

// Select feeds one discrete answer to the selective phase.
func (c *Controller) Select(ctx context.Context, answer int, now time.Time) {
	now = c.clamp(now)
	if c.phase != PhaseSelective {
		return
	}
	c.selectiveAnswer(ctx, answer, now)
}

// PhaseTimeout force-closes the in-flight attempt with PHASE_TIME_EXCEEDED and
// completes the phase.
func (c *Controller) PhaseTimeout(ctx context.Context, now time.Time) {
	now = c.clamp(now)
	switch c.phase {
	case PhaseSustained:
		c.closeSustained(ReasonPhaseTimeExceeded, now)
		c.finishPhase(ctx, now)
	case PhaseDivided:
		c.closeDivided(ReasonPhaseTimeExceeded, now)
		c.finishPhase(ctx, now)
	}
}

// DeadlineFired handles an omission deadline. Deadlines for attempts that
// already closed are ignored.
func (c *Controller) DeadlineFired(ctx context.Context, id AttemptID, now time.Time) {
	now = c.clamp(now)
	switch c.phase {
	case PhaseSustained:
		if t := c.sustained; t == nil || t.Attempt.ID != id || t.Attempt.closed {
			return
		}
		c.closeSustained(ReasonOmission, now)
		c.index++
		c.openSustained(ctx, now)
	case PhaseDivided:
		if d := c.divided; d == nil || d.Attempt.ID != id || d.Attempt.closed {
			return
		}
		c.closeDivided(ReasonOmission, now)
		c.index++
		c.openPair(ctx, now)
	}
}

// Abort cancels the pending deadline and drops the in-flight attempt without
// classifying or persisting anything.
func (c *Controller) Abort() {
	if c.sustained != nil {
		c.sched.Cancel(c.sustained.Attempt.ID)
		c.sustained = nil
	}
	if c.divided != nil {
		c.sched.Cancel(c.divided.Attempt.ID)
		c.divided = nil
	}
}

// --- Attempt bookkeeping ---

func (c *Controller) newAttempt(p Phase, index int, now time.Time) *TargetAttempt {
	c.nextID++
	return &TargetAttempt{ID: c.nextID, Phase: p, Index: index, StartedAt: now}
}

func (c *Controller) appendFocus(a *TargetAttempt, side Side, state int, now time.Time) {
	c.focusLog = append(c.focusLog, FocusEvent{
		Phase:  a.Phase,
		Target: a.Index,
		Side:   side,
		State:  state,
		At:     now,
	})
}

type sideRun struct {
	side Side
	run  *focusRun
}

// closeAttempt is the single terminal transition of an attempt. It cancels the
// deadline before anything else and is a no-op on a closed attempt.
func (c *Controller) closeAttempt(a *TargetAttempt, reason Reason, now time.Time, runs ...sideRun) bool {
	if a == nil || a.closed {
		return false
	}
	c.sched.Cancel(a.ID)
	a.closed = true
	a.EndedAt = now
	a.Reason = reason

	for _, sr := range runs {
		if sr.run.inside {
			sr.run.inside = false
			c.appendFocus(a, sr.side, 0, now)
		}
		c.live.Add(sr.run.reaction)
	}
	if reason == ReasonOmission {
		c.omissionErrors++
	}
	c.attempts = append(c.attempts, *a)

	c.log.Info("Target closed",
		zap.Stringer("phase", a.Phase),
		zap.Int("index", a.Index),
		zap.String("reason", string(reason)),
		zap.Duration("elapsed", now.Sub(a.StartedAt)))
	return true
}

func (c *Controller) targetClosedPayload(a *TargetAttempt) TargetClosedPayload {
	return TargetClosedPayload{
		Phase:           a.Phase,
		Index:           a.Index,
		Reason:          a.Reason,
		Success:         a.Reason == ReasonFocusComplete,
		MeanReactionMs:  c.live.Stats().Mean,
		OmissionErrors:  c.omissionErrors,
		DeviationErrors: c.deviationErrors,
	}
}

// --- Sustained phase ---

func (c *Controller) openSustained(ctx context.Context, now time.Time) {
	if c.index >= len(c.cfg.Targets) {
		c.finishPhase(ctx, now)
		return
	}
	a := c.newAttempt(PhaseSustained, c.index, now)
	region := c.cfg.Targets[c.index]
	c.sustained = newFocusTracker(a, region)
	c.sched.Arm(a.ID, c.settings.OmissionWindow)

	c.emit.Emit(event.TargetStarted, TargetStartedPayload{
		Phase:      PhaseSustained,
		Index:      c.index,
		Total:      len(c.cfg.Targets),
		Region:     &region,
		SuccessMs:  c.settings.SuccessDuration.Milliseconds(),
		OmissionMs: c.settings.OmissionWindow.Milliseconds(),
	})
	c.log.Debug("Sustained target started", zap.Int("index", c.index))
}

func (c *Controller) sustainedGaze(ctx context.Context, x, y float64, now time.Time) {
	t := c.sustained
	if t == nil || t.Attempt.closed {
		return
	}

	switch t.run.observe(x, y, now) {
	case entered:
		c.appendFocus(t.Attempt, SideNone, 1, now)
		rt := t.run.reaction
		c.emit.Emit(event.FocusStatus, FocusStatusPayload{
			Phase:           PhaseSustained,
			Index:           t.Attempt.Index,
			Status:          event.StatusFocusStarted,
			ReactionTime:    &rt,
			DeviationErrors: c.deviationErrors,
		})
	case left:
		c.appendFocus(t.Attempt, SideNone, 0, now)
		c.deviationErrors++
		c.log.Debug("Focus lost before sustained duration",
			zap.Int("index", t.Attempt.Index), zap.Int("deviation_errors", c.deviationErrors))
		c.emit.Emit(event.FocusStatus, FocusStatusPayload{
			Phase:           PhaseSustained,
			Index:           t.Attempt.Index,
			Status:          event.StatusFocusLost,
			DeviationError:  true,
			DeviationErrors: c.deviationErrors,
		})
	}

	if t.run.inside && t.run.heldFor(now) >= c.settings.SuccessDuration {
		c.emit.Emit(event.FocusStatus, FocusStatusPayload{
			Phase:           PhaseSustained,
			Index:           t.Attempt.Index,
			Status:          event.StatusSustained,
			DeviationErrors: c.deviationErrors,
		})
		c.closeSustained(ReasonFocusComplete, now)
		c.index++
		c.openSustained(ctx, now)
	}
}

func (c *Controller) closeSustained(reason Reason, now time.Time) {
	t := c.sustained
	if t == nil || !c.closeAttempt(t.Attempt, reason, now, sideRun{SideNone, t.run}) {
		return
	}
	payload := c.targetClosedPayload(t.Attempt)
	rt := t.run.reaction
	payload.ReactionTime = &rt
	c.emit.Emit(event.TargetClosed, payload)
	c.sustained = nil
}

// --- Selective phase ---

func (c *Controller) enterSelective(ctx context.Context, now time.Time) {
	c.phase = PhaseSelective
	c.index = 0
	c.evaluator = NewRoundEvaluator(c.rounds)
	c.emit.Emit(event.PhaseStarted, PhaseStartedPayload{Phase: PhaseSelective, Total: len(c.rounds)})
	c.log.Info("Selective phase started", zap.Int("rounds", len(c.rounds)))
	if c.evaluator.Done() {
		c.finishPhase(ctx, now)
		return
	}
	c.openRound()
}

func (c *Controller) openRound() {
	c.ind.Set(true)
	c.emit.Emit(event.RoundStarted, RoundStartedPayload{
		Round:    c.evaluator.Round(),
		Expected: c.evaluator.ExpectedCount(),
	})
}

func (c *Controller) selectiveAnswer(ctx context.Context, answer int, now time.Time) {
	res := c.evaluator.Submit(answer)
	c.selections = append(c.selections, res)
	c.emit.Emit(event.SelectionScored, res)
	if !res.RoundClosed {
		return
	}

	c.ind.Set(false)
	c.log.Info("Selection round closed",
		zap.Int("round", res.Round),
		zap.Int("correct", res.CorrectCount),
		zap.Int("incorrect", res.IncorrectCount))
	c.emit.Emit(event.RoundClosed, RoundClosedPayload{
		Round:          res.Round,
		CorrectCount:   res.CorrectCount,
		IncorrectCount: res.IncorrectCount,
	})
	if c.evaluator.Done() {
		c.finishPhase(ctx, now)
		return
	}
	c.openRound()
}

// --- Divided phase ---

func (c *Controller) enterDivided(ctx context.Context, now time.Time) {
	c.phase = PhaseDivided
	c.index = 0
	c.emit.Emit(event.PhaseStarted, PhaseStartedPayload{Phase: PhaseDivided, Total: len(c.cfg.Pairs)})
	c.log.Info("Divided phase started", zap.Int("pairs", len(c.cfg.Pairs)))
	c.openPair(ctx, now)
}

func (c *Controller) openPair(ctx context.Context, now time.Time) {
	if c.index >= len(c.cfg.Pairs) {
		c.finishPhase(ctx, now)
		return
	}
	a := c.newAttempt(PhaseDivided, c.index, now)
	pair := c.cfg.Pairs[c.index]
	c.divided = newDualTracker(a, pair)
	c.sched.Arm(a.ID, c.settings.DividedOmissionWindow)

	c.emit.Emit(event.TargetStarted, TargetStartedPayload{
		Phase:      PhaseDivided,
		Index:      c.index,
		Total:      len(c.cfg.Pairs),
		Pair:       &pair,
		SuccessMs:  c.settings.SuccessDuration.Milliseconds(),
		OmissionMs: c.settings.DividedOmissionWindow.Milliseconds(),
	})
}

func (c *Controller) dividedGaze(ctx context.Context, x, y float64, now time.Time) {
	d := c.divided
	if d == nil || d.Attempt.closed {
		return
	}

	for _, s := range []Side{SidePrimary, SideSecondary} {
		r := d.side(s)
		switch r.observe(x, y, now) {
		case entered:
			c.appendFocus(d.Attempt, s, 1, now)
			rt := r.reaction
			c.emit.Emit(event.FocusStatus, FocusStatusPayload{
				Phase:           PhaseDivided,
				Index:           d.Attempt.Index,
				Side:            s,
				Status:          event.StatusFocusStarted,
				ReactionTime:    &rt,
				DeviationErrors: c.deviationErrors,
			})
		case left:
			c.appendFocus(d.Attempt, s, 0, now)
			deviation := !r.sustained
			if deviation {
				c.deviationErrors++
			}
			c.emit.Emit(event.FocusStatus, FocusStatusPayload{
				Phase:           PhaseDivided,
				Index:           d.Attempt.Index,
				Side:            s,
				Status:          event.StatusFocusLost,
				DeviationError:  deviation,
				DeviationErrors: c.deviationErrors,
			})
		}
	}

	for _, s := range d.markSustained(now, c.settings.SuccessDuration) {
		c.emit.Emit(event.FocusStatus, FocusStatusPayload{
			Phase:           PhaseDivided,
			Index:           d.Attempt.Index,
			Side:            s,
			Status:          event.StatusSustained,
			DeviationErrors: c.deviationErrors,
		})
	}

	if d.Complete() {
		c.closeDivided(ReasonFocusComplete, now)
		c.index++
		c.openPair(ctx, now)
	}
}

func (c *Controller) closeDivided(reason Reason, now time.Time) {
	d := c.divided
	if d == nil || !c.closeAttempt(d.Attempt, reason, now,
		sideRun{SidePrimary, d.primary}, sideRun{SideSecondary, d.secondary}) {
		return
	}
	payload := c.targetClosedPayload(d.Attempt)
	p, s := d.primary.reaction, d.secondary.reaction
	payload.Primary, payload.Secondary = &p, &s
	c.emit.Emit(event.TargetClosed, payload)
	c.divided = nil
}

// --- Phase completion ---

// finishPhase classifies and records the active phase, then moves to the next
// one.
func (c *Controller) finishPhase(ctx context.Context, now time.Time) {
	done := c.phase
	c.completePhase(ctx, done, now)

	switch done {
	case PhaseSustained:
		c.enterSelective(ctx, now)
	case PhaseSelective:
		if len(c.cfg.Pairs) > 0 {
			c.enterDivided(ctx, now)
			return
		}
		c.finish(now)
	case PhaseDivided:
		c.finish(now)
	}
}

func (c *Controller) completePhase(ctx context.Context, p Phase, now time.Time) {
	rec := PhaseRecord{SessionID: c.sessionID, Phase: p, RecordedAt: now}
	window := c.settings.windowFor(p)

	for _, a := range c.attempts {
		if a.Phase != p {
			continue
		}
		rec.Attempts = append(rec.Attempts, a)
		if p == PhaseDivided {
			for _, s := range []Side{SidePrimary, SideSecondary} {
				c.outcomes = append(c.outcomes, Classify(a, s, SubLog(c.focusLog, a, s), window))
			}
			continue
		}
		c.outcomes = append(c.outcomes, Classify(a, SideNone, SubLog(c.focusLog, a, SideNone), window))
	}
	for _, ev := range c.focusLog {
		if ev.Phase == p {
			rec.FocusEvents = append(rec.FocusEvents, ev)
		}
	}
	if p == PhaseSelective {
		rec.Selections = append([]SelectionResult(nil), c.selections...)
	}

	payload := PhaseCompletedPayload{Phase: p, Persisted: true}
	if err := c.persist(ctx, rec, now); err != nil {
		c.log.Warn("Phase results could not be recorded", zap.Stringer("phase", p), zap.Error(err))
		payload.Persisted = false
		payload.Error = err.Error()
	}
	payload.Metrics = c.Metrics()
	c.log.Info("Phase completed",
		zap.Stringer("phase", p),
		zap.Int("hits", payload.Metrics.Hits),
		zap.Int("commissions", payload.Metrics.Commissions),
		zap.Int("omissions", payload.Metrics.Omissions),
		zap.Bool("persisted", payload.Persisted))
	c.emit.Emit(event.PhaseCompleted, payload)
}

func (c *Controller) persist(ctx context.Context, rec PhaseRecord, now time.Time) error {
	return multierr.Combine(
		c.rec.PersistPhaseRecord(ctx, rec),
		c.rec.PersistAnalysis(ctx, c.Analysis(now)),
	)
}

func (c *Controller) finish(now time.Time) {
	c.phase = PhaseDone
	c.index = 0
	summary := c.Analysis(now)
	c.log.Info("Experiment completed",
		zap.Float64("mean_reaction_ms", summary.Summary.ReactionTime.Mean),
		zap.Float64("stddev_reaction_ms", summary.Summary.ReactionTime.StdDev))
	c.emit.Emit(event.ExperimentCompleted, ExperimentCompletedPayload{Summary: summary})
}
