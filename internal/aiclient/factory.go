package aiclient

import (
	"context"
	"time"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
)

// NewFromConfig builds a Client from the pipeline configuration, or nil
// if AI classification is disabled (--no-ai or the ai.disabled config
// key) or no endpoint is configured. The chain
// treats a nil Client as "AI stage is skipped", falling straight to the
// default rule per spec.md section 4.6 step 6.
func NewFromConfig(cfg config.Config) (Client, error) {
	if cfg.NoAI || len(cfg.AIEndpoints) == 0 {
		return nil, nil
	}
	return NewPool(cfg.AIEndpoints, time.Duration(cfg.AIRequestTimeout)*time.Second, cfg.AIMaxRetries)
}

// Unavailable is a Client that always reports the AI stage as
// unavailable, forcing the chain down its default path without
// configuring a real endpoint.
type Unavailable struct{ Err error }

func (u Unavailable) ClassifyFolder(ctx context.Context, req FolderRequest) (FolderResult, error) {
	return FolderResult{}, u.err()
}

func (u Unavailable) ClassifyFile(ctx context.Context, req FileRequest) (FileResult, error) {
	return FileResult{}, u.err()
}

func (u Unavailable) err() error {
	if u.Err != nil {
		return u.Err
	}
	return common.ErrAIUnavailable
}
