package audio

import (
	"encoding/binary"
	"math"
)

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// BytesToInt16 converts little-endian PCM16 bytes to samples. A trailing odd
// byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToBytes converts samples to little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToFloat32 converts PCM16 bytes to samples normalised to [-1, 1).
func BytesToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square level of PCM16 bytes normalised to [0, 1].
// Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Silence returns n samples of digital silence.
func Silence(samples int) []byte { return make([]byte, samples*2) }

// Reframer re-chunks an arbitrary PCM16 byte stream into frames of a fixed
// sample count. It is not safe for concurrent use.
type Reframer struct {
	frameBytes int
	buf        []byte
}

// NewReframer returns a Reframer emitting frames of frameLength samples.
func NewReframer(frameLength int) *Reframer {
	return &Reframer{frameBytes: frameLength * 2}
}

// Push appends pcm and returns every complete frame now available. Each
// returned frame is a fresh slice.
func (r *Reframer) Push(pcm []byte) [][]byte {
	r.buf = append(r.buf, pcm...)
	var frames [][]byte
	for len(r.buf) >= r.frameBytes {
		frame := make([]byte, r.frameBytes)
		copy(frame, r.buf[:r.frameBytes])
		frames = append(frames, frame)
		r.buf = r.buf[r.frameBytes:]
	}
	return frames
}

// Pending returns the number of buffered bytes that do not yet form a frame.
func (r *Reframer) Pending() int { return len(r.buf) }

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
