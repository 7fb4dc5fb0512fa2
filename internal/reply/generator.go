//go:generate go run go.uber.org/mock/mockgen -source=generator.go -destination=../mocks/mock_generator.go -package=mocks

// Package reply holds the collaborators that produce automatic bot replies.
package reply

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when a generator produced no text.
var ErrEmptyReply = errors.New("empty reply")

// Generator produces a reply for the given conversation context. It may be
// slow or fail; callers apply their own timeout and fallback.
type Generator interface {
	Generate(ctx context.Context, contextText string) (string, error)
}

// Static always answers with the same text.
type Static string

func (s Static) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == "" {
		return "", ErrEmptyReply
	}
	return string(s), nil
}
