package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// Clip is decoded 16-bit PCM ready for playback.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration reports how long the clip plays for.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// LoadWAV decodes a 16-bit PCM WAV stream.
func LoadWAV(r io.ReadSeeker) (Clip, error) {
	dec := gowav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("not a valid WAV file")
	}
	if dec.BitDepth != 16 {
		return Clip{}, fmt.Errorf("unsupported bit depth %d (only 16-bit is supported)", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("failed to decode WAV data: %w", err)
	}
	return Clip{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Samples:    int16Samples(buf),
	}, nil
}

func int16Samples(buf *goaudio.IntBuffer) []int16 {
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = int16(v)
	}
	return out
}

// AppendPCM appends samples to dst as little-endian 16-bit PCM.
func AppendPCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
