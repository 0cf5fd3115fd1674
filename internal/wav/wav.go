// Package wav builds canonical 16-bit PCM WAV containers from recorded frames.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

const bitsPerSample = 16

// ErrNoAudio is returned when there is nothing to encode.
var ErrNoAudio = errors.New("no audio recorded")

// Header is the canonical 44-byte WAV header, in file order.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data length
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for linear PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32  // SampleRate * NumChannels * 2
	BlockAlign    uint16  // NumChannels * 2
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // data length
}

// Duration reports how long the PCM payload plays for.
func (h Header) Duration() time.Duration {
	if h.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(h.Subchunk2Size) / float64(h.ByteRate) * float64(time.Second))
}

// Encode concatenates frames in order and prefixes them with a canonical
// header. An empty frame sequence yields ErrNoAudio rather than a
// header-only file.
func Encode(frames [][]byte, sampleRate int, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	dataLen := 0
	for _, frame := range frames {
		dataLen += len(frame)
	}
	if dataLen == 0 {
		return nil, ErrNoAudio
	}

	header := newHeader(uint32(sampleRate), uint16(channels), uint32(dataLen))

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+dataLen))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	for _, frame := range frames {
		buf.Write(frame)
	}
	return buf.Bytes(), nil
}

// Decode validates a canonical header and returns it with the PCM payload.
func Decode(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	var header Header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return Header{}, nil, errors.New("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return Header{}, nil, errors.New("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return Header{}, nil, errors.New("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return Header{}, nil, errors.New("invalid WAV file: missing data chunk")
	case header.AudioFormat != 1:
		return Header{}, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	case header.BitsPerSample != bitsPerSample:
		return Header{}, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	end := HeaderSize + int(header.Subchunk2Size)
	if end > len(data) {
		return Header{}, nil, fmt.Errorf("truncated WAV data: header declares %d bytes, have %d", header.Subchunk2Size, len(data)-HeaderSize)
	}
	return header, data[HeaderSize:end], nil
}

func newHeader(sampleRate uint32, channels uint16, dataLen uint32) Header {
	blockAlign := channels * bitsPerSample / 8
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataLen,
	}
}
