// Package speech turns response text into audible speech.
//
// A [Pipeline] accepts a stream of text deltas, cuts it into sentence-sized
// fragments, synthesizes each fragment on a producer goroutine and plays the
// resulting chunks strictly in order on a consumer goroutine. The two are
// joined by a bounded queue so synthesis of the next fragment overlaps with
// playback of the current one. A [Run] is cancellable at any point: the
// output device is halted immediately and no queued chunk is ever played
// afterwards.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/tts"
)

const (
	// DefaultQueueSize is the number of synthesized chunks buffered ahead of
	// playback.
	DefaultQueueSize = 2

	// DefaultFragmentTimeout bounds the synthesis of a single fragment.
	DefaultFragmentTimeout = 15 * time.Second

	// DefaultOpenTimeout bounds opening the output device.
	DefaultOpenTimeout = 10 * time.Second
)

// ErrRunActive is returned by [Pipeline.Start] while a previous run has not
// finished.
var ErrRunActive = errors.New("speech: a synthesis run is already active")

// errStopped is returned by the run goroutines when the run context ends.
var errStopped = errors.New("speech: run stopped")

// Chunk is the synthesized audio of one fragment.
type Chunk struct {
	// Index is the zero-based position of the fragment within the run.
	Index int
	Text  string
	PCM   []byte
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithQueueSize sets how many chunks may be buffered ahead of playback.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithFragmentTimeout bounds each Synthesize call.
func WithFragmentTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.fragmentTimeout = d
		}
	}
}

// WithOpenTimeout bounds each output device Open.
func WithOpenTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.openTimeout = d
		}
	}
}

// WithVoice sets the voice identifier passed to the engine.
func WithVoice(id string) Option {
	return func(p *Pipeline) { p.voice = id }
}

// WithSampleRate sets the output sample rate. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithStyle sets the initial delivery style.
func WithStyle(s tts.Style) Option {
	return func(p *Pipeline) { p.style = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics records synthesis latency and request counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(p *Pipeline) { p.providerName = name }
}

// Pipeline synthesizes and plays response text. At most one [Run] is active
// at a time. All methods are safe for concurrent use.
type Pipeline struct {
	provider tts.Provider
	out      audio.OutputDevice

	queueSize       int
	fragmentTimeout time.Duration
	openTimeout     time.Duration
	voice           string
	sampleRate      int
	log             *slog.Logger
	metrics         *observe.Metrics
	providerName    string

	mu     sync.Mutex
	style  tts.Style
	active *Run
}

// New creates a Pipeline that synthesizes with provider and plays on out.
func New(provider tts.Provider, out audio.OutputDevice, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider:        provider,
		out:             out,
		queueSize:       DefaultQueueSize,
		fragmentTimeout: DefaultFragmentTimeout,
		openTimeout:     DefaultOpenTimeout,
		sampleRate:      audio.DefaultSampleRate,
		log:             slog.Default(),
		providerName:    "tts",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetStyle changes the delivery style of subsequent runs.
func (p *Pipeline) SetStyle(s tts.Style) {
	p.mu.Lock()
	p.style = s
	p.mu.Unlock()
}

// Style returns the current delivery style.
func (p *Pipeline) Style() tts.Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.style
}

// Start opens the output device and begins speaking the deltas read from
// fragments. The run ends when fragments is closed and every chunk has been
// played, when ctx is cancelled, or when [Run.Cancel] is called.
//
// A failure to open the device is returned as a [fault.KindDevice] error.
func (p *Pipeline) Start(ctx context.Context, fragments <-chan string) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		select {
		case <-p.active.done:
		default:
			return nil, ErrRunActive
		}
	}

	pb, err := p.open(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := observe.StartSpan(runCtx, "speech.run")
	r := &Run{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	stopHalt := context.AfterFunc(runCtx, pb.Halt)
	p.active = r

	opts := tts.Options{VoiceID: p.voice, SampleRate: p.sampleRate, Style: p.style}
	go func() {
		defer span.End()
		err := p.run(runCtx, fragments, pb, opts, r)
		stopHalt()
		cancel()
		if cerr := pb.Close(); cerr != nil {
			p.log.Debug("speech: close playback", "err", cerr)
		}
		span.SetAttributes(attribute.Int64("chunks_played", r.Played()))
		r.finish(err)
	}()
	return r, nil
}

type opened struct {
	pb  audio.Playback
	err error
}

// open opens the output device within the open timeout. A playback that
// arrives after the deadline is closed unused.
func (p *Pipeline) open(ctx context.Context) (audio.Playback, error) {
	octx, cancel := context.WithTimeout(ctx, p.openTimeout)
	defer cancel()

	ch := make(chan opened, 1)
	go func() {
		pb, err := p.out.Open(octx, p.sampleRate)
		ch <- opened{pb, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, fault.Cancelled("speech")
			}
			return nil, fault.Device("playback", r.err)
		}
		return r.pb, nil
	case <-octx.Done():
	}

	go func() {
		if r := <-ch; r.pb != nil {
			_ = r.pb.Close()
		}
	}()
	if ctx.Err() != nil {
		return nil, fault.Cancelled("speech")
	}
	p.log.Warn("speech: output device did not open in time", "timeout", p.openTimeout)
	return nil, fault.Device("playback", context.DeadlineExceeded)
}

// Speak plays text as a single run and waits for it. Cancelling ctx stops
// playback.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	r, err := p.Start(ctx, ch)
	if err != nil {
		return err
	}
	return r.Wait(ctx)
}

func (p *Pipeline) run(ctx context.Context, fragments <-chan string, pb audio.Playback, opts tts.Options, r *Run) error {
	queue := make(chan Chunk, p.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		return p.produce(gctx, fragments, queue, opts)
	})
	g.Go(func() error {
		return p.consume(gctx, pb, queue, r)
	})
	err := g.Wait()

	// Nothing queued may be played once the run is over.
	for range queue {
	}

	if err == nil && ctx.Err() != nil {
		err = errStopped
	}
	if errors.Is(err, errStopped) {
		return fault.Cancelled("speech")
	}
	return err
}

// produce splits deltas into fragments and synthesizes them in order.
func (p *Pipeline) produce(ctx context.Context, fragments <-chan string, queue chan<- Chunk, opts tts.Options) error {
	var (
		split splitter
		index int
	)
	emit := func(text string) error {
		pcm, err := p.synthesize(ctx, text, opts, index)
		if err != nil {
			return err
		}
		select {
		case queue <- Chunk{Index: index, Text: text, PCM: pcm}:
			index++
			return nil
		case <-ctx.Done():
			return errStopped
		}
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(fragments)
			return errStopped
		case delta, ok := <-fragments:
			if !ok {
				if rest := split.flush(); rest != "" {
					return emit(rest)
				}
				return nil
			}
			for _, frag := range split.push(delta) {
				if err := emit(frag); err != nil {
					go audio.Drain(fragments)
					return err
				}
			}
		}
	}
}

func (p *Pipeline) synthesize(ctx context.Context, text string, opts tts.Options, index int) ([]byte, error) {
	fctx, cancel := context.WithTimeout(ctx, p.fragmentTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := p.provider.Synthesize(fctx, text, opts)
	if ctx.Err() != nil {
		return nil, errStopped
	}
	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordProviderRequest(ctx, p.providerName, "tts", status)
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, p.providerName, "tts")
		}
		p.log.Warn("speech: synthesis failed", "fragment", index, "err", err)
		return nil, fault.EngineUnavailable("tts", err)
	}
	return pcm, nil
}

// consume plays chunks back to back.
func (p *Pipeline) consume(ctx context.Context, pb audio.Playback, queue <-chan Chunk, r *Run) error {
	for {
		select {
		case <-ctx.Done():
			return errStopped
		case chunk, ok := <-queue:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return errStopped
			}
			r.played.Add(1)
			if err := pb.Write(ctx, chunk.PCM); err != nil {
				if ctx.Err() != nil || errors.Is(err, audio.ErrHalted) {
					return errStopped
				}
				return fault.Device("playback", err)
			}
		}
	}
}

// Run is one active synthesis-and-playback pass.
type Run struct {
	cancel     context.CancelFunc
	cancelOnce sync.Once
	played     atomic.Int64

	done chan struct{}
	err  error
}

// Cancel stops the run: synthesis stops, the device is silenced and queued
// chunks are discarded. It is idempotent and a no-op after the run ended.
func (r *Run) Cancel() {
	r.cancelOnce.Do(r.cancel)
}

// Done is closed exactly once when the run has ended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err reports why the run ended: nil for natural completion, a
// [fault.KindCancelled] error after cancellation, or the engine or device
// failure. It returns nil while the run is active.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Played returns the number of chunks whose playback started.
func (r *Run) Played() int64 { return r.played.Load() }

// Wait blocks until the run ends. If ctx ends first the run is cancelled
// and Wait still waits for it to finish.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.Cancel()
		<-r.done
	}
	return r.err
}

func (r *Run) finish(err error) {
	r.err = err
	close(r.done)
}
