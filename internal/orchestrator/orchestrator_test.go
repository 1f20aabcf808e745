package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/capture"
	"github.com/MrWong99/hearken/internal/endpoint"
	"github.com/MrWong99/hearken/internal/orchestrator"
	"github.com/MrWong99/hearken/internal/respond"
	"github.com/MrWong99/hearken/internal/speech"
	"github.com/MrWong99/hearken/internal/transcribe"
	"github.com/MrWong99/hearken/internal/wake"
	"github.com/MrWong99/hearken/pkg/audio"
	audiomock "github.com/MrWong99/hearken/pkg/audio/mock"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	sttmock "github.com/MrWong99/hearken/pkg/provider/stt/mock"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hearken/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/hearken/pkg/provider/vad/mock"
	wakemock "github.com/MrWong99/hearken/pkg/provider/wakeword/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const frameLen = 160

var testFormat = audio.Format{SampleRate: 16000, FrameLength: frameLen}

var listenCfg = endpoint.Config{
	FrameDuration:   10 * time.Millisecond,
	SilenceHangover: 50 * time.Millisecond,
	MaxUtterance:    2 * time.Second,
	NoSpeechTimeout: 100 * time.Millisecond,
}

var testPrompts = orchestrator.Prompts{
	Reprompt:         "Please try again.",
	Apology:          "Sorry.",
	ResetDone:        "History cleared.",
	AccessibilityOn:  "Accessible on.",
	AccessibilityOff: "Accessible off.",
}

type setup struct {
	wake      *wakemock.Engine
	responder respond.Responder
	stt       *sttmock.Provider
	tts       *ttsmock.Provider
	out       *audiomock.OutputDevice
	opts      []orchestrator.Option
}

type harness struct {
	t           *testing.T
	feed        chan []byte
	out         *audiomock.OutputDevice
	tts         *ttsmock.Provider
	stt         *sttmock.Provider
	orch        *orchestrator.Orchestrator
	transitions chan orchestrator.Transition
	cancel      context.CancelFunc
	done        chan error
}

func heard(text string) *sttmock.Provider {
	return &sttmock.Provider{NewSessionFunc: func(stt.StreamConfig) stt.SessionHandle {
		sess := sttmock.NewSession()
		sess.FinishFinals = []stt.Transcript{{Text: text, IsFinal: true}}
		return sess
	}}
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	if s.responder == nil {
		s.responder = respond.Static("It is ten. ", "Goodbye.")
	}
	if s.stt == nil {
		s.stt = heard("what time is it")
	}
	if s.tts == nil {
		s.tts = &ttsmock.Provider{}
	}
	if s.out == nil {
		s.out = &audiomock.OutputDevice{PlayDelay: 5 * time.Millisecond}
	}
	if s.wake == nil {
		s.wake = &wakemock.Engine{Rate: testFormat.SampleRate, Length: frameLen}
	}
	h := &harness{
		t:           t,
		feed:        make(chan []byte, 512),
		out:         s.out,
		tts:         s.tts,
		stt:         s.stt,
		transitions: make(chan orchestrator.Transition, 128),
		done:        make(chan error, 1),
	}

	src := capture.New(&audiomock.InputDevice{Feed: h.feed}, testFormat, capture.WithBuffer(512))
	det, err := wake.New(s.wake, testFormat)
	if err != nil {
		t.Fatalf("wake.New: %v", err)
	}
	ep, err := endpoint.New(&vadmock.Session{}, listenCfg)
	if err != nil {
		t.Fatalf("endpoint.New: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := speech.New(s.tts, s.out, speech.WithLogger(quiet))

	opts := append([]orchestrator.Option{
		orchestrator.WithPolicy(orchestrator.Policy{Listen: listenCfg, ErrorBackoff: 10 * time.Millisecond}),
		orchestrator.WithPrompts(testPrompts),
		orchestrator.WithLogger(quiet),
		orchestrator.WithOnTransition(func(tr orchestrator.Transition) { h.transitions <- tr }),
	}, s.opts...)
	h.orch, err = orchestrator.New(orchestrator.Deps{
		Capture:    src,
		Wake:       det,
		Endpointer: ep,
		STT:        s.stt,
		STTConfig:  stt.StreamConfig{SampleRate: testFormat.SampleRate, Channels: 1},
		Speech:     pipe,
		Responder:  s.responder,
	}, opts...)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.orch.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		h.t.Error("Run did not return after cancellation")
	}
}

func (h *harness) wake() { h.feed <- wakemock.Marker(frameLen) }

func (h *harness) speech(n int) {
	for range n {
		h.feed <- vadmock.Speech(frameLen)
	}
}

func (h *harness) silence(n int) {
	for range n {
		h.feed <- vadmock.Silence(frameLen)
	}
}

// hum keeps feeding silence in real time until the test ends, for tests
// that outlive a capture flush.
func (h *harness) hum(t *testing.T) {
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				select {
				case h.feed <- vadmock.Silence(frameLen):
				default:
				}
			}
		}
	}()
}

// await collects transitions until one reaches to via event.
func (h *harness) await(to orchestrator.State, event string) []orchestrator.Transition {
	h.t.Helper()
	var seen []orchestrator.Transition
	timeout := time.After(3 * time.Second)
	for {
		select {
		case tr := <-h.transitions:
			seen = append(seen, tr)
			if tr.To == to && tr.Event == event {
				return seen
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s via %q; saw %+v", to, event, seen)
			return nil
		}
	}
}

func events(trs []orchestrator.Transition) []string {
	out := make([]string, len(trs))
	for i, tr := range trs {
		out[i] = tr.Event
	}
	return out
}

// ── Turns ────────────────────────────────────────────────────────────────────

func TestTurn_Answered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	want := []string{orchestrator.EventWake, orchestrator.EventUtteranceEnd, orchestrator.EventRespond, orchestrator.EventDone}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if seen[0].TurnID == "" || seen[3].TurnID != seen[0].TurnID {
		t.Errorf("turn IDs = %q..%q, want one non-empty ID", seen[0].TurnID, seen[3].TurnID)
	}

	writes := h.out.Recorded()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	for i, w := range writes {
		if w.Halted {
			t.Errorf("write %d was halted", i)
		}
	}
	if got := h.orch.State(); got != orchestrator.StateStandby {
		t.Errorf("state = %s, want STANDBY", got)
	}
	if got := len(h.orch.History()); got != 4 {
		t.Errorf("history has %d entries, want 4", got)
	}
}

func TestTurn_SilenceReturnsToStandbyWithoutTranscribing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	h.wake()
	h.silence(15)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventNoUtterance)
	want := []string{orchestrator.EventWake, orchestrator.EventNoUtterance}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if n := h.stt.Calls(); n != 0 {
		t.Errorf("opened %d transcription streams, want 0", n)
	}
	if !slices.Contains(h.tts.Texts(), testPrompts.Reprompt) {
		t.Errorf("spoken = %v, want the re-prompt", h.tts.Texts())
	}
}

func TestTurn_NoSpeechRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{opts: []orchestrator.Option{
		orchestrator.WithPolicy(orchestrator.Policy{Listen: listenCfg, NoSpeechRetries: 1}),
	}})
	h.wake()
	h.start()
	h.hum(t)

	seen := h.await(orchestrator.StateStandby, orchestrator.EventNoUtterance)
	if len(seen) != 2 {
		t.Fatalf("events = %v, want wake then no_utterance", events(seen))
	}
	reprompts := 0
	for _, txt := range h.tts.Texts() {
		if txt == testPrompts.Reprompt {
			reprompts++
		}
	}
	if reprompts != 2 {
		t.Errorf("re-prompted %d times, want 2", reprompts)
	}
}

func TestTurn_EmptyTranscriptReprompts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{stt: heard("   ")})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventNoUtterance)
	want := []string{orchestrator.EventWake, orchestrator.EventUtteranceEnd, orchestrator.EventNoUtterance}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Reprompt}) {
		t.Errorf("spoken = %v, want only the re-prompt", got)
	}
}

func TestTurn_STTUnavailableApologises(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{stt: &sttmock.Provider{StartStreamErr: errors.New("connection refused")}})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	want := []string{orchestrator.EventWake, orchestrator.EventRespond, orchestrator.EventDone}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if seen[1].From != orchestrator.StateListening || seen[1].To != orchestrator.StateResponding {
		t.Errorf("apology transition = %s -> %s, want LISTENING -> RESPONDING", seen[1].From, seen[1].To)
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want only the apology", got)
	}
}

func TestTurn_STTOpenTimeoutApologises(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{stt: &sttmock.Provider{Block: true}, opts: []orchestrator.Option{
		orchestrator.WithTranscribeOptions(transcribe.WithOpenTimeout(50 * time.Millisecond)),
	}})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	want := []string{orchestrator.EventWake, orchestrator.EventRespond, orchestrator.EventDone}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want only the apology", got)
	}
}

func TestTurn_STTFailsMidStream(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	sess.FailWith = errors.New("socket closed")
	h := newHarness(t, setup{stt: &sttmock.Provider{Session: sess}})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want only the apology", got)
	}
}

func TestTurn_ResponderErrorApologises(t *testing.T) {
	t.Parallel()

	failing := respond.Func(func(context.Context, string) (<-chan string, error) {
		return nil, errors.New("model offline")
	})
	h := newHarness(t, setup{responder: failing})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	want := []string{orchestrator.EventWake, orchestrator.EventUtteranceEnd, orchestrator.EventRespond, orchestrator.EventDone}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want the apology", got)
	}
}

func TestTurn_ResponseTimeout(t *testing.T) {
	t.Parallel()

	stuck := respond.Func(func(ctx context.Context, _ string) (<-chan string, error) {
		ch := make(chan string)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	})
	h := newHarness(t, setup{responder: stuck, opts: []orchestrator.Option{
		orchestrator.WithPolicy(orchestrator.Policy{Listen: listenCfg, ResponseTimeout: 50 * time.Millisecond}),
	}})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want the apology after the timeout", got)
	}
}

func TestTurn_StuckResponderRequestTimesOut(t *testing.T) {
	t.Parallel()

	stuck := respond.Func(func(ctx context.Context, _ string) (<-chan string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, setup{responder: stuck, opts: []orchestrator.Option{
		orchestrator.WithPolicy(orchestrator.Policy{Listen: listenCfg, ResponseTimeout: 50 * time.Millisecond}),
	}})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	want := []string{orchestrator.EventWake, orchestrator.EventUtteranceEnd, orchestrator.EventRespond, orchestrator.EventDone}
	if got := events(seen); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.Apology}) {
		t.Errorf("spoken = %v, want the apology after the timeout", got)
	}
}

func TestTurn_TTSFailureEndsSilently(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{Err: errors.New("quota exceeded")}
	h := newHarness(t, setup{tts: synth})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if len(seen) != 4 {
		t.Fatalf("events = %v, want a full turn", events(seen))
	}
	if got := len(h.out.Recorded()); got != 0 {
		t.Errorf("played %d chunks, want 0", got)
	}
	for _, txt := range synth.Texts() {
		if txt == testPrompts.Apology {
			t.Error("apology attempted although speech synthesis is down")
		}
	}
}

func TestStandby_FailingWakeEngineFallsBackToManual(t *testing.T) {
	t.Parallel()

	eng := &wakemock.Engine{Rate: testFormat.SampleRate, Length: frameLen, ProcessErr: errors.New("model crashed")}
	h := newHarness(t, setup{wake: eng})
	h.hum(t)
	h.start()

	time.Sleep(100 * time.Millisecond)
	if n, _ := eng.Calls(); n != 1 {
		t.Fatalf("engine ran %d times in standby, want 1 before falling back", n)
	}

	h.orch.Trigger()
	h.await(orchestrator.StateStandby, orchestrator.EventNoUtterance)

	// The next standby gives the engine one more chance.
	time.Sleep(100 * time.Millisecond)
	if n, _ := eng.Calls(); n != 2 {
		t.Errorf("engine ran %d times, want 2 after one turn", n)
	}
}

// ── Barge-in ─────────────────────────────────────────────────────────────────

func TestBargeIn_StopsPlaybackAndListens(t *testing.T) {
	t.Parallel()

	var once sync.Once
	var h *harness
	out := &audiomock.OutputDevice{PlayDelay: 2 * time.Second}
	out.OnWrite = func([]byte) { once.Do(func() { h.wake() }) }

	h = newHarness(t, setup{
		out:       out,
		responder: respond.Static("One. ", "Two. ", "Three. ", "Four."),
	})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateListening, orchestrator.EventBargeIn)
	last := seen[len(seen)-1]
	if last.From != orchestrator.StateResponding {
		t.Errorf("barge-in from %s, want RESPONDING", last.From)
	}
	triggeredAt := last.At

	// Nothing more may play once the trigger landed.
	time.Sleep(50 * time.Millisecond)
	writes := out.Recorded()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want exactly the interrupted one", len(writes))
	}
	if !writes[0].Halted {
		t.Error("in-flight chunk was not halted")
	}
	for i, w := range writes {
		if w.Started.After(triggeredAt) {
			t.Errorf("write %d started after the barge-in", i)
		}
	}
	if got := h.orch.State(); got != orchestrator.StateListening {
		t.Errorf("state = %s, want LISTENING", got)
	}
}

func TestBargeIn_ManualTriggerWhileResponding(t *testing.T) {
	t.Parallel()

	var once sync.Once
	var h *harness
	out := &audiomock.OutputDevice{PlayDelay: 2 * time.Second}
	out.OnWrite = func([]byte) { once.Do(func() { h.orch.Trigger() }) }

	h = newHarness(t, setup{out: out})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateListening, orchestrator.EventBargeIn)
	if got := len(out.Recorded()); got != 1 {
		t.Errorf("got %d writes, want 1", got)
	}
}

func TestBargeIn_NextTurnAnswers(t *testing.T) {
	t.Parallel()

	var once sync.Once
	var h *harness
	out := &audiomock.OutputDevice{PlayDelay: 20 * time.Millisecond}
	out.OnWrite = func([]byte) {
		once.Do(func() {
			h.wake()
			h.speech(3)
			h.silence(6)
		})
	}
	h = newHarness(t, setup{out: out, responder: respond.Static("One. ", "Two. ", "Three.")})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	seen := h.await(orchestrator.StateListening, orchestrator.EventBargeIn)
	first := seen[0].TurnID
	seen = h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if seen[0].Event != orchestrator.EventUtteranceEnd {
		t.Errorf("after barge-in the next event = %s, want utterance_end", seen[0].Event)
	}
	if seen[0].TurnID == first {
		t.Error("barge-in turn reused the interrupted turn ID")
	}
}

// ── Commands ─────────────────────────────────────────────────────────────────

type resettable struct {
	asked  atomic.Int32
	resets atomic.Int32
}

func (r *resettable) Respond(ctx context.Context, text string) (<-chan string, error) {
	r.asked.Add(1)
	return respond.Static("ok.").Respond(ctx, text)
}

func (r *resettable) ResetHistory() { r.resets.Add(1) }

func TestCommand_Reset(t *testing.T) {
	t.Parallel()

	r := &resettable{}
	h := newHarness(t, setup{responder: r, stt: heard("please start over")})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if r.resets.Load() != 1 {
		t.Errorf("resets = %d, want 1", r.resets.Load())
	}
	if r.asked.Load() != 0 {
		t.Error("responder consulted for a command")
	}
	if got := h.tts.Texts(); !slices.Equal(got, []string{testPrompts.ResetDone}) {
		t.Errorf("spoken = %v, want the confirmation", got)
	}
}

func TestCommand_AccessibilityToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{stt: heard("accessibility mode")})
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if !h.orch.Accessible() {
		t.Fatal("accessibility mode not enabled")
	}
	h.tts.Reset()

	h.wake()
	h.speech(3)
	h.silence(6)
	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	if h.orch.Accessible() {
		t.Fatal("second command did not disable accessibility mode")
	}
	calls := h.tts.CallList()
	if len(calls) != 1 || calls[0].Text != testPrompts.AccessibilityOff {
		t.Fatalf("calls = %+v, want the disabled status", calls)
	}
	if calls[0].Opts.Style != tts.StyleStandard {
		t.Errorf("style = %v, want standard after disabling", calls[0].Opts.Style)
	}
}

func TestSetAccessibility_SelectsClearStyle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{stt: heard("what time is it")})
	h.orch.SetAccessibility(true)
	h.wake()
	h.speech(3)
	h.silence(6)
	h.start()

	h.await(orchestrator.StateStandby, orchestrator.EventDone)
	for _, c := range h.tts.CallList() {
		if c.Opts.Style != tts.StyleClear {
			t.Errorf("%q synthesized with style %v, want clear", c.Text, c.Opts.Style)
		}
	}
}

// ── Construction ─────────────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := orchestrator.New(orchestrator.Deps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	bad := listenCfg
	bad.SilenceHangover = 0
	src := capture.New(&audiomock.InputDevice{}, testFormat)
	det, _ := wake.New(nil, testFormat)
	ep, _ := endpoint.New(&vadmock.Session{}, listenCfg)
	_, err := orchestrator.New(orchestrator.Deps{
		Capture:    src,
		Wake:       det,
		Endpointer: ep,
		STT:        &sttmock.Provider{},
		Speech:     speech.New(&ttsmock.Provider{}, &audiomock.OutputDevice{}),
		Responder:  respond.Echo{},
	}, orchestrator.WithPolicy(orchestrator.Policy{Listen: listenCfg, BargeIn: bad}))
	if err == nil {
		t.Fatal("expected error for an invalid barge-in policy")
	}
}

func TestRun_RejectsSecondCaller(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	h.wake()
	h.start()
	h.await(orchestrator.StateListening, orchestrator.EventWake)

	if err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("second Run call was not rejected")
	}
}
