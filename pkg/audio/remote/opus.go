package remote

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/hearken/pkg/audio"
)

// Satellites speak 16 kHz mono Opus at 20 ms frame size in both directions.
const (
	opusSampleRate  = 16000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 320

	// maxPacketBytes bounds a single encoded packet.
	maxPacketBytes = 4000
)

// opusDecoder decodes microphone packets from one satellite connection.
// Each connection gets its own decoder to keep decoder state consistent
// across consecutive packets.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("remote: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns the packet as PCM16LE bytes.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("remote: opus decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}

// opusEncoder encodes speaker audio for one playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("remote: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of PCM16LE bytes. Short input is padded
// with silence.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	pcm := audio.BytesToInt16(frame)
	if len(pcm) < opusFrameSize {
		pcm = append(pcm, make([]int16, opusFrameSize-len(pcm))...)
	}
	packet, err := e.enc.Encode(pcm, opusFrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("remote: opus encode: %w", err)
	}
	return packet, nil
}
