package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/hearken/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(make([]byte, 8), 16000, 1)
	if len(wav) != 52 {
		t.Fatalf("len = %d, want 52", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids %q %q %q", wav[0:4], wav[8:16], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 8 {
		t.Errorf("data size = %d, want 8", got)
	}
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	fallback := audio.WAV{SampleRate: 22050, Channels: 1}

	t.Run("round trip", func(t *testing.T) {
		w, err := audio.DecodeWAV(audio.EncodeWAV(pcm, 24000, 2), fallback)
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if w.SampleRate != 24000 || w.Channels != 2 || string(w.PCM) != string(pcm) {
			t.Errorf("decoded %+v", w)
		}
	})

	t.Run("extra chunks are skipped", func(t *testing.T) {
		wav := audio.EncodeWAV(pcm, 16000, 1)
		// Insert an odd-sized LIST chunk between fmt and data.
		list := append([]byte("LIST\x03\x00\x00\x00abc"), 0)
		wav = append(wav[:36:36], append(list, wav[36:]...)...)
		w, err := audio.DecodeWAV(wav, fallback)
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if len(w.PCM) != len(pcm) {
			t.Errorf("pcm len = %d, want %d", len(w.PCM), len(pcm))
		}
	})

	t.Run("streamed size runs to end", func(t *testing.T) {
		wav := audio.EncodeWAV(pcm, 16000, 1)
		binary.LittleEndian.PutUint32(wav[40:], 0)
		w, err := audio.DecodeWAV(wav, fallback)
		if err != nil || len(w.PCM) != len(pcm) {
			t.Errorf("pcm len = %d, err %v", len(w.PCM), err)
		}
	})

	t.Run("data without fmt uses fallback", func(t *testing.T) {
		wav := append([]byte("RIFF\x00\x00\x00\x00WAVEdata\x04\x00\x00\x00"), 1, 0, 2, 0)
		w, err := audio.DecodeWAV(wav, fallback)
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if w.SampleRate != 22050 || w.Channels != 1 || len(w.PCM) != 4 {
			t.Errorf("decoded %+v", w)
		}
	})

	bad := map[string][]byte{
		"too short":  {1, 2},
		"not riff":   append([]byte("XXXX\x00\x00\x00\x00WAVE"), make([]byte, 32)...),
		"no data":    []byte("RIFF\x00\x00\x00\x00WAVEfmt \x04\x00\x00\x00\x00\x00\x00\x00"),
		"8-bit data": eightBit(),
	}
	for name, wav := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(wav, fallback); !errors.Is(err, audio.ErrBadWAV) {
				t.Errorf("err = %v, want ErrBadWAV", err)
			}
		})
	}
}

func eightBit() []byte {
	wav := audio.EncodeWAV([]byte{1, 2}, 8000, 1)
	binary.LittleEndian.PutUint16(wav[34:], 8)
	return wav
}

func TestWAV_Mono16(t *testing.T) {
	t.Parallel()

	stereo := audio.WAV{PCM: audio.Int16ToBytes([]int16{100, 300, -100, -300}), SampleRate: 16000, Channels: 2}
	mono, err := stereo.Mono16(0)
	if err != nil {
		t.Fatalf("Mono16: %v", err)
	}
	if got := audio.BytesToInt16(mono); len(got) != 2 || got[0] != 200 || got[1] != -200 {
		t.Errorf("mono = %v, want [200 -200]", got)
	}

	resampled, err := audio.WAV{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}.Mono16(8000)
	if err != nil || len(resampled) != 1600 {
		t.Errorf("resampled len = %d, err %v", len(resampled), err)
	}

	if _, err := (audio.WAV{Channels: 6}).Mono16(0); !errors.Is(err, audio.ErrBadWAV) {
		t.Errorf("six channels: err = %v", err)
	}
}
