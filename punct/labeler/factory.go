package labeler

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/pipe"
	"github.com/hrygo/punctuator/internal/profile"
	"github.com/hrygo/punctuator/punct"
)

// New creates the labeler selected by p. p must have been validated.
func New(ctx context.Context, p *profile.Profile, logger *slog.Logger) (punct.Labeler, error) {
	switch p.Labeler {
	case profile.LabelerProcess:
		cmd := pipe.Command{
			Path: p.LabelerCommand,
			Args: p.LabelerArgs,
			Dir:  p.LabelerDir,
		}
		proc, err := NewProcess(ctx, cmd, p.LabelerStartupTimeout, p.LabelerTimeout, logger)
		if err != nil {
			return nil, err
		}
		return proc, nil
	case profile.LabelerHTTP:
		h, err := NewHTTP(ctx, HTTPConfig{
			BaseURL:        p.LabelerURL,
			RPS:            p.LabelerRPS,
			Timeout:        p.LabelerTimeout,
			StartupTimeout: p.LabelerStartupTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	case profile.LabelerLLM:
		return NewLLM(LLMConfig{
			APIKey:    p.LLMAPIKey,
			BaseURL:   p.LLMBaseURL,
			Model:     p.LLMModel,
			ChunkSize: p.ChunkSize,
			Timeout:   p.LabelerTimeout,
		}, logger), nil
	case profile.LabelerRule:
		return NewRule(), nil
	default:
		return nil, errors.Errorf("unknown labeler %q", p.Labeler)
	}
}
