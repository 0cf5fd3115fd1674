package usecase

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"voicenotes/internal/ports"
)

// audioPump copies fixed-size reads from the capture source into frames.
// Each frame is a fresh buffer owned by the receiver.
type audioPump struct {
	frames chan []byte
	stop   chan struct{}

	stopOnce sync.Once
	// err is valid once frames has been closed.
	err error
}

func startAudioPump(audio io.Reader, chunkSize int) *audioPump {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}
	p := &audioPump{
		frames: make(chan []byte, 16),
		stop:   make(chan struct{}),
	}
	go p.run(audio, chunkSize)
	return p
}

func (p *audioPump) run(audio io.Reader, chunkSize int) {
	defer close(p.frames)

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			frame := append([]byte(nil), buf[:n]...)
			select {
			case p.frames <- frame:
			case <-p.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !p.halted() {
				p.err = err
			}
			return
		}
	}
}

func (p *audioPump) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *audioPump) halted() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = session.Close()
		return <-done
	}
}
