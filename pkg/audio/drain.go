package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a producer goroutine when the stream is no longer needed,
// e.g. an abandoned transcript or synthesis channel.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
