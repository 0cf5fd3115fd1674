package usecase

import "strings"

// Session is the state of one recording run. It is only touched while the
// controller's lock is held.
type Session struct {
	SampleRate int
	Channels   int

	stopRequested  bool
	transcript     strings.Builder
	frames         [][]byte
	notes          string
	notesGenerated bool
	notesSaved     bool
	audioSaved     bool
	finalized      bool
}

func newSession(sampleRate int, channels int) *Session {
	return &Session{SampleRate: sampleRate, Channels: channels}
}

// appendFinal adds one finalized turn followed by a single space.
func (s *Session) appendFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.transcript.WriteString(text)
	s.transcript.WriteByte(' ')
}

func (s *Session) appendFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.frames = append(s.frames, frame)
}

func (s *Session) fullTranscript() string {
	return s.transcript.String()
}

func (s *Session) recordedBytes() int {
	total := 0
	for _, frame := range s.frames {
		total += len(frame)
	}
	return total
}
