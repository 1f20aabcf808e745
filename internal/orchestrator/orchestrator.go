// Package orchestrator drives one hands-free conversation: it waits for the
// wake phrase, captures and transcribes one utterance, hands the text to a
// [respond.Responder] and speaks the answer while watching for a barge-in.
//
// The state machine (STANDBY, LISTENING, TRANSCRIBING, RESPONDING) is only
// advanced from the goroutine running [Orchestrator.Run]. That goroutine
// also hands the capture frame channel to exactly one reader at a time: the
// wake detector, the endpointer loop or the barge-in watch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hearken/internal/endpoint"
	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/internal/respond"
	"github.com/MrWong99/hearken/internal/speech"
	"github.com/MrWong99/hearken/internal/transcribe"
	"github.com/MrWong99/hearken/internal/wake"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/tts"
)

// DefaultErrorBackoff is the pause after an apology before STANDBY re-arms.
const DefaultErrorBackoff = 2 * time.Second

// FrameSource is the capture side consumed by the orchestrator.
// [capture.Source] implements it.
type FrameSource interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	Flush()
	Err() error
	Stop() error
}

// Prompts are the fixed phrases the orchestrator speaks itself. An empty
// prompt is skipped.
type Prompts struct {
	Listening        string
	Reprompt         string
	Apology          string
	ResetDone        string
	AccessibilityOn  string
	AccessibilityOff string
}

// DefaultPrompts returns the built-in English prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Listening:        "I'm listening.",
		Reprompt:         "I'm sorry, I didn't quite catch that. Please try again.",
		Apology:          "I ran into a problem, please try again.",
		ResetDone:        "Conversation history cleared. I'm ready for a fresh start.",
		AccessibilityOn:  "Accessibility mode enabled.",
		AccessibilityOff: "Accessibility mode disabled.",
	}
}

// Commands are spoken phrases handled without the responder.
type Commands struct {
	Reset         []string
	Accessibility []string
}

// DefaultCommands returns the built-in command phrases.
func DefaultCommands() Commands {
	return Commands{
		Reset:         []string{"reset conversation", "clear history", "forget everything", "start over"},
		Accessibility: []string{"emergency mode", "accessibility on", "screen reader mode", "accessibility mode"},
	}
}

// Policy holds the turn-taking parameters.
type Policy struct {
	// Listen is the endpointer configuration after a wake trigger.
	Listen endpoint.Config

	// BargeIn is used when listening starts from a barge-in. Zero means Listen.
	BargeIn endpoint.Config

	// NoSpeechRetries is how many times an empty listening window is
	// re-prompted before returning to STANDBY.
	NoSpeechRetries int

	// ErrorBackoff is the pause after an apology.
	ErrorBackoff time.Duration

	// ResponseTimeout bounds the wait for the responder's first delta,
	// counted from the request. Zero waits as long as the turn lasts.
	ResponseTimeout time.Duration
}

// Deps are the components an Orchestrator coordinates. All fields are
// required.
type Deps struct {
	Capture    FrameSource
	Wake       *wake.Detector
	Endpointer *endpoint.Endpointer
	STT        stt.Provider
	STTConfig  stt.StreamConfig
	Speech     *speech.Pipeline
	Responder  respond.Responder
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithPolicy replaces the default policy. A zero Listen config keeps the
// endpointer's current configuration.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithPrompts replaces [DefaultPrompts].
func WithPrompts(p Prompts) Option {
	return func(o *Orchestrator) { o.prompts = p }
}

// WithCommands replaces [DefaultCommands].
func WithCommands(c Commands) Option {
	return func(o *Orchestrator) { o.commands = c }
}

// WithMatcher sets the matcher used for command phrases.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(o *Orchestrator) { o.matcher = m }
}

// WithAccessibility starts in accessibility mode.
func WithAccessibility(on bool) Option {
	return func(o *Orchestrator) { o.accessible = on }
}

// WithTranscribeOptions passes options to every transcription stream.
func WithTranscribeOptions(opts ...transcribe.Option) Option {
	return func(o *Orchestrator) { o.sttOpts = append(o.sttOpts, opts...) }
}

// WithOnTransition registers a hook called after every state change on the
// orchestrator goroutine. It must not block.
func WithOnTransition(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator owns the conversation state machine.
type Orchestrator struct {
	src       FrameSource
	wake      *wake.Detector
	ep        *endpoint.Endpointer
	stt       stt.Provider
	sttCfg    stt.StreamConfig
	sttOpts   []transcribe.Option
	speech    *speech.Pipeline
	responder respond.Responder
	matcher   *phonetic.Matcher

	policy       Policy
	onTransition func(Transition)
	log          *slog.Logger
	metrics      *observe.Metrics

	machine *fsm.FSM
	hist    history
	running atomic.Bool

	// turnID is only touched by the Run goroutine.
	turnID string

	mu         sync.RWMutex
	prompts    Prompts
	commands   Commands
	accessible bool
}

// New validates deps and returns an Orchestrator in STANDBY.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.Capture == nil {
		errs = append(errs, errors.New("capture source is required"))
	}
	if deps.Wake == nil {
		errs = append(errs, errors.New("wake detector is required"))
	}
	if deps.Endpointer == nil {
		errs = append(errs, errors.New("endpointer is required"))
	}
	if deps.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if deps.Speech == nil {
		errs = append(errs, errors.New("speech pipeline is required"))
	}
	if deps.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		src:       deps.Capture,
		wake:      deps.Wake,
		ep:        deps.Endpointer,
		stt:       deps.STT,
		sttCfg:    deps.STTConfig,
		speech:    deps.Speech,
		responder: deps.Responder,
		policy:    Policy{ErrorBackoff: DefaultErrorBackoff},
		prompts:   DefaultPrompts(),
		commands:  DefaultCommands(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.matcher == nil {
		o.matcher = phonetic.New()
	}
	if o.policy.Listen == (endpoint.Config{}) {
		o.policy.Listen = deps.Endpointer.Config()
	}
	if o.policy.BargeIn == (endpoint.Config{}) {
		o.policy.BargeIn = o.policy.Listen
	}
	if err := o.policy.Listen.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: listen policy: %w", err)
	}
	if err := o.policy.BargeIn.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: barge-in policy: %w", err)
	}
	if o.policy.NoSpeechRetries < 0 {
		return nil, fmt.Errorf("orchestrator: no-speech retries must not be negative, got %d", o.policy.NoSpeechRetries)
	}
	o.machine = newMachine(o.entered)
	o.applyStyle()
	return o, nil
}

// State returns the current state. Safe for concurrent use.
func (o *Orchestrator) State() State { return State(o.machine.Current()) }

// History returns up to [HistorySize] recent transitions, oldest first.
func (o *Orchestrator) History() []Transition { return o.hist.snapshot() }

// SetPrompts replaces the spoken prompts from the next use on.
func (o *Orchestrator) SetPrompts(p Prompts) {
	o.mu.Lock()
	o.prompts = p
	o.mu.Unlock()
}

// SetCommands replaces the command phrases.
func (o *Orchestrator) SetCommands(c Commands) {
	o.mu.Lock()
	o.commands = c
	o.mu.Unlock()
}

// SetAccessibility switches accessibility mode, which selects the clear
// speaking style.
func (o *Orchestrator) SetAccessibility(on bool) {
	o.mu.Lock()
	o.accessible = on
	o.mu.Unlock()
	o.applyStyle()
}

// Accessible reports whether accessibility mode is on.
func (o *Orchestrator) Accessible() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.accessible
}

// Trigger requests a manual wake. It also barges in while responding.
func (o *Orchestrator) Trigger() { o.wake.Trigger() }

func (o *Orchestrator) applyStyle() {
	if o.Accessible() {
		o.speech.SetStyle(tts.StyleClear)
		return
	}
	o.speech.SetStyle(tts.StyleStandard)
}

func (o *Orchestrator) currentPrompts() Prompts {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.prompts
}

func (o *Orchestrator) currentCommands() Commands {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.commands
}

// Run serves turns until ctx is cancelled, then releases the capture device
// and returns nil. A device that cannot be opened is retried after the
// error back-off. Run must not be called concurrently.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator: already running")
	}
	defer o.running.Store(false)
	defer func() {
		if err := o.src.Stop(); err != nil {
			o.log.Debug("orchestrator: stop capture", "err", err)
		}
	}()

	o.log.Info("orchestrator: started", "manual_only", !o.wake.HasEngine())
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := o.src.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.log.Error("orchestrator: capture unavailable", "err", err)
			o.recordFault(ctx, err)
			o.sleep(ctx, o.policy.ErrorBackoff)
			continue
		}

		frames := o.src.Frames()
		if err := o.wake.Watch(ctx, frames); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.standbyFailed(ctx, err)
			continue
		}

		bargeIn := false
		for o.turn(ctx, frames, bargeIn) && ctx.Err() == nil {
			bargeIn = true
		}
	}
}

func (o *Orchestrator) standbyFailed(ctx context.Context, err error) {
	o.recordFault(ctx, err)
	if fault.IsKind(err, fault.KindDevice) {
		o.log.Warn("orchestrator: capture stream ended, re-opening", "err", err)
		_ = o.src.Stop()
		o.sleep(ctx, o.policy.ErrorBackoff)
		return
	}
	if o.wake.Suspend() {
		o.log.Error("orchestrator: wake engine failed, using the manual trigger until the next turn", "err", err)
	}
	o.src.Flush()
}

// turn runs one wake-to-standby cycle. It reports whether the turn ended in
// a barge-in, in which case the next turn starts in LISTENING.
func (o *Orchestrator) turn(ctx context.Context, frames <-chan audio.Frame, bargeIn bool) bool {
	o.turnID = uuid.NewString()
	defer func() { o.turnID = "" }()
	o.wake.Resume()

	ctx, span := observe.StartTurnSpan(ctx, "orchestrator.turn", o.turnID,
		trace.WithAttributes(attribute.Bool("barge_in", bargeIn)))
	defer span.End()

	started := time.Now()
	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	if !bargeIn {
		o.fire(ctx, EventWake)
	}
	outcome, next := o.converse(ctx, frames, bargeIn)
	if ctx.Err() != nil && o.State() != StateStandby {
		o.fire(ctx, EventAbort)
	}

	span.SetAttributes(attribute.String("outcome", outcome))
	o.metrics.RecordTurn(ctx, outcome, time.Since(started))
	observe.Logger(ctx).Info("orchestrator: turn finished",
		"outcome", outcome, "duration", time.Since(started).Round(time.Millisecond))
	return next
}

func (o *Orchestrator) converse(ctx context.Context, frames <-chan audio.Frame, bargeIn bool) (outcome string, next bool) {
	log := observe.Logger(ctx)
	prompts := o.currentPrompts()

	cfg := o.policy.Listen
	if bargeIn {
		cfg = o.policy.BargeIn
	}
	if err := o.ep.Reconfigure(cfg); err != nil {
		return o.fail(ctx, fault.EngineUnavailable("vad", err)), false
	}
	if !bargeIn {
		o.say(ctx, prompts.Listening)
		o.ep.Reset()
	}

	var stream *transcribe.Stream
	for attempt := 0; ; attempt++ {
		s, err := o.listen(ctx, frames)
		if err == nil {
			stream = s
			break
		}
		if !fault.IsKind(err, fault.KindNoUtterance) {
			return o.fail(ctx, err), false
		}
		o.say(ctx, prompts.Reprompt)
		if ctx.Err() != nil {
			return observe.OutcomeCancelled, false
		}
		if attempt >= o.policy.NoSpeechRetries {
			log.Info("orchestrator: no utterance captured")
			o.fire(ctx, EventNoUtterance)
			return observe.OutcomeNoUtterance, false
		}
		log.Debug("orchestrator: no speech, listening again", "attempt", attempt+1)
		o.ep.Reset()
	}

	o.fire(ctx, EventUtteranceEnd)
	sttStarted := time.Now()
	res, err := stream.Await(ctx)
	stream.Close()
	if err != nil {
		return o.fail(ctx, err), false
	}
	o.metrics.STTDuration.Record(ctx, time.Since(sttStarted).Seconds())

	text := strings.TrimSpace(res.Text)
	log.Info("orchestrator: heard", "text", text, "dropped_frames", stream.Dropped())
	if text == "" {
		o.say(ctx, prompts.Reprompt)
		o.fire(ctx, EventNoUtterance)
		return observe.OutcomeNoUtterance, false
	}

	if reply, ok := o.command(ctx, text); ok {
		return o.answer(ctx, frames, observe.OutcomeCommand, func(rctx context.Context) (<-chan string, error) {
			return respond.Static(reply).Respond(rctx, text)
		})
	}
	return o.answer(ctx, frames, observe.OutcomeAnswered, func(rctx context.Context) (<-chan string, error) {
		return o.responder.Respond(rctx, text)
	})
}

// listen feeds frames to the endpointer until the utterance ends. The
// transcription stream is opened on utterance start with the pre-roll and
// the start frame, so silence never reaches the engine.
func (o *Orchestrator) listen(ctx context.Context, frames <-chan audio.Frame) (*transcribe.Stream, error) {
	var stream *transcribe.Stream
	abandon := func() {
		if stream != nil {
			stream.Close()
		}
	}
	for {
		select {
		case <-ctx.Done():
			abandon()
			return nil, fault.Cancelled("listen")
		case f, ok := <-frames:
			if !ok {
				abandon()
				err := o.src.Err()
				if err == nil {
					err = fault.Device("capture", wake.ErrStreamEnded)
				}
				return nil, err
			}
			ev, err := o.ep.Process(f)
			if err != nil {
				abandon()
				return nil, fault.EngineUnavailable("vad", err)
			}
			switch ev.Type {
			case endpoint.EventStart:
				stream, err = transcribe.Open(ctx, o.stt, o.sttCfg, o.sttOpts...)
				if err != nil {
					return nil, err
				}
				_ = stream.Send(ev.Utterance.PCM())
			case endpoint.EventEnd:
				_ = stream.Send(f.Data)
				observe.Logger(ctx).Debug("orchestrator: utterance ended",
					"reason", ev.Utterance.Reason.String(), "duration", ev.Utterance.Duration())
				return stream, nil
			case endpoint.EventNoUtterance:
				return nil, fault.NoUtterance("listen")
			default:
				if stream != nil {
					_ = stream.Send(f.Data)
				}
			}
		}
	}
}

// command reports the reply for a built-in command phrase.
func (o *Orchestrator) command(ctx context.Context, text string) (string, bool) {
	cmds := o.currentCommands()
	prompts := o.currentPrompts()
	log := observe.Logger(ctx)

	if phrase, _, ok := o.matcher.Find(text, cmds.Reset); ok {
		if r, ok := o.responder.(respond.Resetter); ok {
			r.ResetHistory()
		}
		log.Info("orchestrator: conversation reset", "phrase", phrase)
		return prompts.ResetDone, true
	}
	if phrase, _, ok := o.matcher.Find(text, cmds.Accessibility); ok {
		on := !o.Accessible()
		o.SetAccessibility(on)
		log.Info("orchestrator: accessibility mode toggled", "enabled", on, "phrase", phrase)
		if on {
			return prompts.AccessibilityOn, true
		}
		return prompts.AccessibilityOff, true
	}
	return "", false
}

// answer moves to RESPONDING and speaks the deltas produced by open,
// racing playback against a barge-in watch.
func (o *Orchestrator) answer(ctx context.Context, frames <-chan audio.Frame, outcome string,
	open func(context.Context) (<-chan string, error)) (string, bool) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	asked := time.Now()
	var deadline <-chan time.Time
	if o.policy.ResponseTimeout > 0 {
		t := time.NewTimer(o.policy.ResponseTimeout)
		defer t.Stop()
		deadline = t.C
	}

	deltas, err := request(rctx, cancel, open, deadline)
	if err != nil {
		return o.fail(ctx, err), false
	}
	o.fire(ctx, EventRespond)

	var timedOut atomic.Bool
	bargedIn, err := o.speak(ctx, frames, o.relay(rctx, cancel, deltas, asked, deadline, &timedOut))
	switch {
	case bargedIn:
		return observe.OutcomeBargeIn, true
	case err != nil:
		return o.fail(ctx, err), false
	case timedOut.Load():
		return o.fail(ctx, fault.EngineUnavailable("responder", context.DeadlineExceeded)), false
	}
	o.fire(ctx, EventDone)
	return outcome, false
}

type reply struct {
	deltas <-chan string
	err    error
}

// request calls open on its own goroutine so a responder that never gets
// its request off the ground is bounded by deadline as well. Deltas that
// show up after the deadline are drained.
func request(ctx context.Context, cancel context.CancelFunc,
	open func(context.Context) (<-chan string, error), deadline <-chan time.Time) (<-chan string, error) {
	ch := make(chan reply, 1)
	go func() {
		deltas, err := open(ctx)
		ch <- reply{deltas, err}
	}()

	expired := false
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fault.EngineUnavailable("responder", r.err)
		}
		return r.deltas, nil
	case <-deadline:
		expired = true
		cancel()
	case <-ctx.Done():
	}

	go func() {
		if r := <-ch; r.deltas != nil {
			audio.Drain(r.deltas)
		}
	}()
	if !expired {
		return nil, fault.Cancelled("responder")
	}
	return nil, fault.EngineUnavailable("responder", context.DeadlineExceeded)
}

// relay forwards response deltas to the pipeline, timing the first one.
// When no delta arrives before deadline it cancels the responder and
// closes the output.
func (o *Orchestrator) relay(ctx context.Context, cancel context.CancelFunc, in <-chan string,
	asked time.Time, deadline <-chan time.Time, timedOut *atomic.Bool) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		first := true
		for {
			select {
			case d, ok := <-in:
				if !ok {
					return
				}
				if first {
					first, deadline = false, nil
					o.metrics.ResponseDuration.Record(ctx, time.Since(asked).Seconds())
				}
				select {
				case out <- d:
				case <-ctx.Done():
					go audio.Drain(in)
					return
				}
			case <-deadline:
				timedOut.Store(true)
				cancel()
				go audio.Drain(in)
				return
			case <-ctx.Done():
				go audio.Drain(in)
				return
			}
		}
	}()
	return out
}

// speak plays deltas while a fresh wake pass watches the live frames. The
// first to finish decides: playback completing ends the watch, a wake
// trigger cancels playback. In both cases the other side has released its
// resources before speak returns.
func (o *Orchestrator) speak(ctx context.Context, frames <-chan audio.Frame, deltas <-chan string) (bargedIn bool, err error) {
	run, err := o.speech.Start(ctx, deltas)
	if err != nil {
		go audio.Drain(deltas)
		return false, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watched := make(chan error, 1)
	go func() { watched <- o.wake.Watch(watchCtx, frames) }()

	select {
	case <-run.Done():
		stopWatch()
		if werr := <-watched; werr == nil {
			// The wake phrase landed as playback finished.
			o.bargeIn(ctx, run)
			return true, nil
		}
		return false, run.Err()

	case werr := <-watched:
		if werr == nil {
			run.Cancel()
			<-run.Done()
			o.bargeIn(ctx, run)
			return true, nil
		}
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("orchestrator: barge-in watch stopped", "err", werr)
		}
		if fault.IsKind(werr, fault.KindEngineUnavailable) {
			o.wake.Suspend()
		}
		<-run.Done()
		if fault.IsKind(werr, fault.KindDevice) {
			return false, werr
		}
		return false, run.Err()
	}
}

func (o *Orchestrator) bargeIn(ctx context.Context, run *speech.Run) {
	o.metrics.BargeIns.Add(ctx, 1)
	observe.Logger(ctx).Info("orchestrator: barge-in", "chunks_played", run.Played())
	o.fire(ctx, EventBargeIn)
}

// fail applies the recovery action for err and returns the turn outcome.
func (o *Orchestrator) fail(ctx context.Context, err error) string {
	if ctx.Err() != nil || fault.IsCancellation(err) {
		return observe.OutcomeCancelled
	}
	err = fault.WithTurn(err, o.turnID)
	o.recordFault(ctx, err)
	log := observe.Logger(ctx)

	var fe *fault.Error
	errors.As(err, &fe)

	switch {
	case fault.IsKind(err, fault.KindDevice):
		log.Error("orchestrator: device failure, aborting turn", "err", err)
		if fe != nil && fe.Stage == "capture" {
			_ = o.src.Stop()
		}
		o.fire(ctx, EventAbort)

	case fe != nil && fe.Engine == "tts":
		// Without speech there is no one to apologise.
		log.Error("orchestrator: speech synthesis failed", "err", err)
		if o.State() == StateResponding {
			o.fire(ctx, EventDone)
		} else {
			o.fire(ctx, EventAbort)
		}

	default:
		log.Error("orchestrator: turn failed, apologising", "err", err)
		if o.State() != StateResponding {
			o.fire(ctx, EventRespond)
		}
		o.say(ctx, o.currentPrompts().Apology)
		o.fire(ctx, EventDone)
	}

	o.sleep(ctx, o.policy.ErrorBackoff)
	o.src.Flush()
	return observe.OutcomeError
}

// say speaks a fixed prompt and discards the audio captured meanwhile.
func (o *Orchestrator) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := o.speech.Speak(ctx, text); err != nil && !fault.IsCancellation(err) {
		observe.Logger(ctx).Warn("orchestrator: could not speak prompt", "text", text, "err", err)
	}
	o.src.Flush()
}

func (o *Orchestrator) fire(ctx context.Context, event string) {
	err := o.machine.Event(context.WithoutCancel(ctx), event)
	if err == nil {
		return
	}
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return
	}
	o.log.Error("orchestrator: rejected transition", "event", event, "state", o.machine.Current(), "err", err)
}

func (o *Orchestrator) entered(ctx context.Context, e *fsm.Event) {
	t := Transition{From: State(e.Src), To: State(e.Dst), Event: e.Event, TurnID: o.turnID, At: time.Now()}
	o.hist.add(t)
	o.metrics.RecordTransition(ctx, e.Src, e.Dst)
	observe.Logger(ctx).Debug("orchestrator: transition", "from", e.Src, "to", e.Dst, "event", e.Event)
	if o.onTransition != nil {
		o.onTransition(t)
	}
}

func (o *Orchestrator) recordFault(ctx context.Context, err error) {
	stage := ""
	var fe *fault.Error
	if errors.As(err, &fe) {
		stage = fe.Stage
		if stage == "" {
			stage = fe.Engine
		}
	}
	o.metrics.RecordFault(ctx, fault.KindOf(err).String(), stage)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
