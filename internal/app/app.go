// Package app wires all Hearken subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates and connects the
// capture source, wake detector, endpointer, speech pipeline, responder and
// orchestrator; Run drives the conversation loop and the ops server; Shutdown
// tears everything down in order.
//
// Engines come in through [Providers], normally built by [BuildProviders]
// from the config registry. Tests pass mocks directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/capture"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/endpoint"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/orchestrator"
	"github.com/MrWong99/hearken/internal/respond"
	"github.com/MrWong99/hearken/internal/speech"
	"github.com/MrWong99/hearken/internal/transcribe"
	"github.com/MrWong99/hearken/internal/wake"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// shutdownGrace bounds the ops server shutdown when Run returns.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	level     *slog.LevelVar

	src      *capture.Source
	detector *wake.Detector
	vadSess  vad.SessionHandle
	orch     *orchestrator.Orchestrator
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the handler
// built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing is opened
// yet: the audio devices are acquired by Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.checkProviders(); err != nil {
		return nil, err
	}

	format := audio.NewFormat(cfg.Audio.SampleRate, cfg.Audio.FrameDuration())
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("app: capture format: %w", err)
	}
	a.src = capture.New(providers.Audio.Input, format, capture.WithBuffer(cfg.Audio.CaptureBuffer))

	det, err := wake.New(providers.WakeWord, format, wake.WithLogger(a.log), wake.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: wake detector: %w", err)
	}
	a.detector = det
	a.closers = append(a.closers, det.Close)

	sess, err := providers.VAD.NewSession(vad.Config{
		SampleRate:     format.SampleRate,
		Aggressiveness: aggressiveness(cfg.Listening),
		FrameSizeMs:    cfg.Audio.FrameMs,
	})
	if err != nil {
		return nil, fmt.Errorf("app: vad session: %w", err)
	}
	a.vadSess = sess
	a.closers = append(a.closers, sess.Close)

	policy := Policy(cfg)
	ep, err := endpoint.New(sess, policy.Listen)
	if err != nil {
		return nil, fmt.Errorf("app: endpointer: %w", err)
	}

	pipe := speech.New(providers.TTS, providers.Audio.Output,
		speech.WithQueueSize(cfg.Speech.QueueSize),
		speech.WithFragmentTimeout(cfg.Timeouts.Fragment),
		speech.WithOpenTimeout(cfg.Timeouts.Connect),
		speech.WithVoice(cfg.Speech.Voice),
		speech.WithSampleRate(cfg.Speech.OutputSampleRate),
		speech.WithLogger(a.log),
		speech.WithMetrics(a.metrics),
		speech.WithProviderName(cfg.Providers.TTS.Name),
	)

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Capture:    a.src,
		Wake:       det,
		Endpointer: ep,
		STT:        providers.STT,
		STTConfig: stt.StreamConfig{
			SampleRate: format.SampleRate,
			Channels:   1,
			Language:   cfg.Speech.Language,
			Keywords:   cfg.Wake.Phrases,
		},
		Speech:    pipe,
		Responder: a.responder(),
	},
		orchestrator.WithPolicy(policy),
		orchestrator.WithPrompts(Prompts(cfg.Prompts)),
		orchestrator.WithCommands(Commands(cfg.Commands)),
		orchestrator.WithAccessibility(cfg.Speech.AccessibilityMode),
		orchestrator.WithTranscribeOptions(
			transcribe.WithFinalTimeout(cfg.Timeouts.Final),
			transcribe.WithOpenTimeout(cfg.Timeouts.Connect),
			transcribe.WithLogger(a.log),
		),
		orchestrator.WithOnTransition(func(tr orchestrator.Transition) {
			a.log.Debug("state transition", "from", tr.From, "to", tr.To, "event", tr.Event, "turn_id", tr.TurnID)
		}),
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.handler = a.buildHandler()
	return a, nil
}

// checkProviders reports every missing required engine.
func (a *App) checkProviders() error {
	p := a.providers
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.Audio.Input == nil || p.Audio.Output == nil {
		errs = append(errs, errors.New("audio input and output devices are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if p.WakeWord == nil && !a.cfg.Wake.ManualTrigger {
		a.log.Warn("no wake-word engine and manual trigger disabled; nothing can activate the assistant")
	}
	return nil
}

// responder returns a chat conversation when a model is configured and an
// echo otherwise.
func (a *App) responder() respond.Responder {
	r := a.cfg.Responder
	if a.providers.LLM == nil {
		a.log.Info("no llm configured, echoing transcripts")
		return respond.Echo{Prefix: r.EchoPrefix}
	}
	opts := []respond.ConversationOption{
		respond.WithMaxHistory(r.MaxHistory),
		respond.WithTokenBudget(r.TokenBudget),
		respond.WithTemperature(r.Temperature),
		respond.WithMaxTokens(r.MaxTokens),
		respond.WithLogger(a.log),
	}
	if r.SystemPrompt != "" {
		opts = append(opts, respond.WithSystemPrompt(r.SystemPrompt))
	}
	return respond.NewConversation(a.providers.LLM, opts...)
}

// ─── Config mapping ──────────────────────────────────────────────────────────

// Policy converts the listening and timeout sections to an orchestrator
// policy. The barge-in config differs from the regular one only in its
// hangover.
func Policy(cfg *config.Config) orchestrator.Policy {
	l := cfg.Listening
	listen := endpoint.Config{
		FrameDuration:   cfg.Audio.FrameDuration(),
		SilenceHangover: l.SilenceHangover,
		MaxUtterance:    l.MaxUtterance,
		NoSpeechTimeout: l.NoSpeechTimeout,
		PreRoll:         l.PreRoll,
	}
	bargeIn := listen
	if l.BargeInHangover > 0 {
		bargeIn.SilenceHangover = l.BargeInHangover
	}
	return orchestrator.Policy{
		Listen:          listen,
		BargeIn:         bargeIn,
		NoSpeechRetries: l.NoSpeechRetries,
		ErrorBackoff:    cfg.Timeouts.ErrorBackoff,
		ResponseTimeout: cfg.Timeouts.Response,
	}
}

// Prompts overlays the configured phrases on the built-in ones.
func Prompts(pc config.PromptsConfig) orchestrator.Prompts {
	p := orchestrator.DefaultPrompts()
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&p.Listening, pc.Listening)
	overlay(&p.Reprompt, pc.Reprompt)
	overlay(&p.Apology, pc.Apology)
	overlay(&p.ResetDone, pc.ResetDone)
	overlay(&p.AccessibilityOn, pc.AccessibilityOn)
	overlay(&p.AccessibilityOff, pc.AccessibilityOff)
	if pc.DisableCue {
		p.Listening = ""
	}
	return p
}

// Commands overlays the configured command phrases on the built-in ones.
func Commands(cc config.CommandsConfig) orchestrator.Commands {
	c := orchestrator.DefaultCommands()
	if len(cc.Reset) > 0 {
		c.Reset = cc.Reset
	}
	if len(cc.Accessibility) > 0 {
		c.Accessibility = cc.Accessibility
	}
	return c
}

func aggressiveness(l config.ListeningConfig) int {
	if l.Aggressiveness == nil {
		return config.DefaultAggressiveness
	}
	return *l.Aggressiveness
}

// ─── Ops server ──────────────────────────────────────────────────────────────

// buildHandler assembles the ops routes. The remote audio endpoint is
// mounted outside the instrumentation middleware since it hijacks the
// connection.
func (a *App) buildHandler() http.Handler {
	var checkers []health.Checker
	checkers = append(checkers, health.CaptureChecker(a.src.Running))
	checkers = append(checkers, breakerCheckers("stt", a.providers.STT)...)
	checkers = append(checkers, breakerCheckers("tts", a.providers.TTS)...)
	checkers = append(checkers, breakerCheckers("llm", a.providers.LLM)...)
	if vl, ok := a.providers.TTS.(tts.VoiceLister); ok {
		checkers = append(checkers, health.VoicesChecker("tts_voices", vl))
	}
	if ready := a.providers.Audio.Ready; ready != nil {
		checkers = append(checkers, health.Checker{
			Name: "audio_device",
			Check: func(context.Context) error {
				if !ready() {
					return errors.New("audio device not connected")
				}
				return nil
			},
		})
	}

	h := health.New(checkers...).WithState(func() string { return a.orch.State().String() })
	inner := http.NewServeMux()
	h.Register(inner)
	inner.Handle("GET /metrics", promhttp.Handler())

	outer := http.NewServeMux()
	outer.Handle("/", observe.Middleware(a.metrics)(inner))
	if b := a.providers.Audio; b.Handler != nil && b.Path != "" {
		outer.Handle(b.Path, b.Handler)
	}
	return outer
}

// breakerCheckers returns one readiness check per engine of a failover
// group. Engines that are not groups have no breaker to report.
func breakerCheckers(kind string, engine any) []health.Checker {
	g, ok := engine.(engineGroup)
	if !ok {
		return nil
	}
	var out []health.Checker
	for _, name := range g.Engines() {
		if cb := g.Breaker(name); cb != nil {
			out = append(out, health.BreakerChecker(kind+"/"+name, cb))
		}
	}
	return out
}

// Handler returns the ops HTTP handler serving /healthz, /readyz, /metrics
// and, for network audio backends, the device endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the conversation loop and, when server.listen_addr is set, the
// ops server. It blocks until ctx is cancelled or a component fails, and
// returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.orch.Run(ctx); err != nil {
			return fmt.Errorf("app: orchestrator: %w", err)
		}
		return nil
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("app running", "state", a.orch.State().String(), "wake_engine", a.detector.HasEngine())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Trigger activates the assistant as if the wake phrase had been heard.
func (a *App) Trigger() { a.orch.Trigger() }

// State returns the current conversation state.
func (a *App) State() orchestrator.State { return a.orch.State() }

// ApplyConfig applies the hot-reloadable differences between old and new.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PromptsChanged {
		a.orch.SetPrompts(Prompts(new.Prompts))
	}
	if d.CommandsChanged {
		a.orch.SetCommands(Commands(new.Commands))
	}
	if d.AccessibilityChanged {
		a.orch.SetAccessibility(d.Accessibility)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the audio devices and engines. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers)+1)

		if err := a.src.Stop(); err != nil {
			a.log.Warn("capture stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
