// Package aiclient implements the AI Classifier Client: an HTTP client
// targeting an OpenAI-compatible chat-completions endpoint or the Ollama
// native API, behind a capability-set Client interface so the chain never
// string-sniffes which variant it is talking to.
package aiclient

import (
	"context"

	"github.com/latchkey-labs/pileup/internal/model"
)

// FolderRequest is what the chain asks the AI for a folder decision with:
// the folder's own name, a bounded sample of child names, a MIME
// histogram of its files, and an optional rule hint (rule mode "ai").
type FolderRequest struct {
	FolderName      string
	SampledChildren []string
	MimeHistogram   map[string]int
	Hint            model.FolderAction
}

// FolderResult is the AI's folder decision, restricted to keep or
// disaggregate per spec.md section 4.7's fixed response schema.
type FolderResult struct {
	Decision     model.FolderAction
	Category     string
	Confidence   float64
	InputTokens  int
	OutputTokens int
}

// FileRequest is what the chain asks the AI for a file's category
// refinement when no rule finalized the file under a disaggregate folder.
type FileRequest struct {
	FileName string
	Mime     string
	Metadata map[string]string
}

// FileResult is the AI's category refinement for a single file.
type FileResult struct {
	Category     string
	Confidence   float64
	InputTokens  int
	OutputTokens int
}

// Client is the capability-set interface the classifier chain depends
// on. OpenAI-compatible and Ollama-compatible endpoints both implement
// it; the chain never inspects which variant it holds.
type Client interface {
	ClassifyFolder(ctx context.Context, req FolderRequest) (FolderResult, error)
	ClassifyFile(ctx context.Context, req FileRequest) (FileResult, error)
}
