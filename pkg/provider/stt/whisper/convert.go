package whisper

import "github.com/MrWong99/hearken/pkg/audio"

// pcmToFloat32Mono converts interleaved PCM16 to the mono float32 samples
// whisper.cpp consumes, averaging the channels of each frame. A channel
// count below two is treated as mono.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	samples := audio.BytesToFloat32(pcm)
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += s
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
