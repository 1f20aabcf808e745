package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadWAV reports a byte slice that is not a usable RIFF/WAVE container.
var ErrBadWAV = errors.New("audio: malformed WAV")

const wavHeaderSize = 44

// WAV is a decoded 16-bit PCM clip.
type WAV struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF
// header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * 2
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of b and returns the PCM payload. A data
// chunk that comes before any fmt chunk is assumed to be in format fallback.
// A data size of zero or one past the end of b, as written by streaming
// servers, means the payload runs to the end.
func DecodeWAV(b []byte, fallback WAV) (WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrBadWAV)
	}

	out := WAV{SampleRate: fallback.SampleRate, Channels: fallback.Channels}
	bits := 16
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return WAV{}, fmt.Errorf("%w: short fmt chunk", ErrBadWAV)
			}
			out.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			out.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bits = int(binary.LittleEndian.Uint16(b[body+14:]))
		case "data":
			if bits != 16 {
				return WAV{}, fmt.Errorf("%w: %d-bit samples unsupported", ErrBadWAV, bits)
			}
			end := body + size
			if size == 0 || end > len(b) {
				end = len(b)
			}
			out.PCM = b[body:end]
			return out, nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	return WAV{}, fmt.Errorf("%w: no data chunk", ErrBadWAV)
}

// Mono16 returns w as mono PCM at rate. Zero keeps the clip's own rate.
// Only mono and stereo clips are accepted.
func (w WAV) Mono16(rate int) ([]byte, error) {
	pcm := w.PCM
	switch w.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("%w: %d channels unsupported", ErrBadWAV, w.Channels)
	}
	if rate > 0 && w.SampleRate != rate {
		pcm = ResampleMono16(pcm, w.SampleRate, rate)
	}
	return pcm, nil
}
