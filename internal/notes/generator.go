package notes

import "context"

// EchoGenerator is the default note generator: it needs no credentials and
// labels the transcript as notes.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, transcript string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Notes for: " + transcript, nil
}
