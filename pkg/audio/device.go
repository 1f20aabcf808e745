package audio

import "context"

// InputDevice is a source of microphone audio. Open acquires the device; the
// returned [Capture] must be closed on every exit path.
type InputDevice interface {
	Open(ctx context.Context, format Format) (Capture, error)
}

// Capture is an open input stream.
type Capture interface {
	// Read blocks until exactly one frame of format.FrameLength samples is
	// available and returns it as PCM16LE. Read returns an error once the
	// device fails or the capture is closed.
	Read() ([]byte, error)

	// Close releases the device. It unblocks a pending Read and is safe to
	// call more than once.
	Close() error
}

// OutputDevice is a speaker. Open acquires the device at the given sample
// rate; the returned [Playback] must be closed on every exit path.
type OutputDevice interface {
	Open(ctx context.Context, sampleRate int) (Playback, error)
}

// Playback is an open output stream.
type Playback interface {
	// Write plays pcm (mono PCM16LE) and blocks until it has been played,
	// ctx is cancelled, or Halt is called. A halted write returns
	// [ErrHalted].
	Write(ctx context.Context, pcm []byte) error

	// Halt silences the device immediately, discarding audio not yet
	// played. It is safe to call concurrently with Write; subsequent writes
	// play normally.
	Halt()

	// Close releases the device.
	Close() error
}
