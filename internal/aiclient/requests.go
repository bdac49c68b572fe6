package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
)

// decisionSchema is the fixed JSON response shape the chain expects back
// from the AI for a folder decision, per spec.md section 4.7.
type decisionSchema struct {
	Decision   string   `json:"decision"`
	Category   *string  `json:"category,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

const folderSystemPrompt = `You are a file-organization assistant. Decide whether a folder should be ` +
	`kept as a single unit or disaggregated into its category-specific contents. Respond with ONLY a JSON ` +
	`object of the shape {"decision":"keep"|"disaggregate","category":string,"confidence":number}. No other text.`

const fileSystemPrompt = `You are a file-organization assistant. Suggest a category path for a single ` +
	`file given its name, MIME type, and metadata. Respond with ONLY a JSON object of the shape ` +
	`{"decision":"disaggregate","category":string,"confidence":number}. No other text.`

// ClassifyFolder asks the pool's next endpoint for a folder decision,
// retrying transient failures with exponential backoff via retry-go and
// falling back to an AIUnavailable error the chain turns into "default".
func (p *Pool) ClassifyFolder(ctx context.Context, req FolderRequest) (FolderResult, error) {
	ep, err := p.pick(ctx)
	if err != nil {
		return FolderResult{}, err
	}
	if err := ep.acquire(ctx); err != nil {
		return FolderResult{}, fmt.Errorf("%w: %v", common.ErrAIUnavailable, err)
	}
	defer ep.release()

	prompt := folderPrompt(req)

	var result FolderResult
	err = retry.Do(
		func() error {
			decision, inTok, outTok, err := ep.complete(ctx, folderSystemPrompt, prompt)
			if err != nil {
				return err
			}
			action, ok := model.ParseFolderAction(strings.ToLower(decision.Decision))
			if !ok || (action != model.ActionKeep && action != model.ActionDisaggregate) {
				return fmt.Errorf("%w: ambiguous folder decision %q", common.ErrAIUnavailable, decision.Decision)
			}
			result = FolderResult{Decision: action, InputTokens: inTok, OutputTokens: outTok}
			if decision.Category != nil {
				result.Category = *decision.Category
			}
			if decision.Confidence != nil {
				result.Confidence = *decision.Confidence
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.retryAttempts())),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return FolderResult{}, fmt.Errorf("%w: %v", common.ErrAIUnavailable, err)
	}
	return result, nil
}

// ClassifyFile asks the pool's next endpoint for a single file's category
// refinement, used when no rule finalized the file under a disaggregate
// folder.
func (p *Pool) ClassifyFile(ctx context.Context, req FileRequest) (FileResult, error) {
	ep, err := p.pick(ctx)
	if err != nil {
		return FileResult{}, err
	}
	if err := ep.acquire(ctx); err != nil {
		return FileResult{}, fmt.Errorf("%w: %v", common.ErrAIUnavailable, err)
	}
	defer ep.release()

	prompt := filePrompt(req)

	var result FileResult
	err = retry.Do(
		func() error {
			decision, inTok, outTok, err := ep.complete(ctx, fileSystemPrompt, prompt)
			if err != nil {
				return err
			}
			if decision.Category == nil || strings.TrimSpace(*decision.Category) == "" {
				return fmt.Errorf("%w: file decision missing category", common.ErrAIUnavailable)
			}
			result = FileResult{Category: *decision.Category, InputTokens: inTok, OutputTokens: outTok}
			if decision.Confidence != nil {
				result.Confidence = *decision.Confidence
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.retryAttempts())),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return FileResult{}, fmt.Errorf("%w: %v", common.ErrAIUnavailable, err)
	}
	return result, nil
}

func (p *Pool) retryAttempts() int {
	if p.maxRetry <= 0 {
		return 1
	}
	return p.maxRetry + 1
}

func folderPrompt(req FolderRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Folder name: %s\n", req.FolderName)
	fmt.Fprintf(&sb, "Sampled children: %s\n", strings.Join(req.SampledChildren, ", "))
	fmt.Fprintf(&sb, "MIME histogram: %v\n", req.MimeHistogram)
	if req.Hint != "" {
		fmt.Fprintf(&sb, "Rule hint: %s\n", req.Hint)
	}
	return sb.String()
}

func filePrompt(req FileRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File name: %s\n", req.FileName)
	fmt.Fprintf(&sb, "MIME: %s\n", req.Mime)
	fmt.Fprintf(&sb, "Metadata: %v\n", req.Metadata)
	return sb.String()
}

// complete performs one request/response round trip against the
// endpoint's detected API shape, returning the parsed decision and token
// counts. Malformed JSON is treated the same as a transport failure, so
// the caller's retry.Do wrapper retries it within the same attempt budget
// (the pool's max retries plus one); malformed output has no separate
// retry limit of its own.
func (ep *endpoint) complete(ctx context.Context, systemPrompt, userPrompt string) (decisionSchema, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()

	switch ep.kind {
	case "ollama":
		return ep.completeOllama(ctx, systemPrompt, userPrompt)
	default:
		return ep.completeOpenAI(ctx, systemPrompt, userPrompt)
	}
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (ep *endpoint) completeOpenAI(ctx context.Context, systemPrompt, userPrompt string) (decisionSchema, int, int, error) {
	body := openAIChatRequest{
		Model: ep.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: marshaling openai request: %v", common.ErrAIUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(ep.url, "/")+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: building openai request: %v", common.ErrAIUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ep.http.Do(req)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: calling %s: %v", common.ErrAIUnavailable, ep.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: %s returned status %d", common.ErrAIUnavailable, ep.url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: reading openai response: %v", common.ErrAIUnavailable, err)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Choices) == 0 {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: malformed openai response", common.ErrAIUnavailable)
	}

	var decision decisionSchema
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &decision); err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: malformed decision JSON from model: %v", common.ErrAIUnavailable, err)
	}
	return decision, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (ep *endpoint) completeOllama(ctx context.Context, systemPrompt, userPrompt string) (decisionSchema, int, int, error) {
	body := ollamaGenerateRequest{
		Model:  ep.model,
		Prompt: systemPrompt + "\n\n" + userPrompt,
		Stream: false,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: marshaling ollama request: %v", common.ErrAIUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(ep.url, "/")+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: building ollama request: %v", common.ErrAIUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ep.http.Do(req)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: calling %s: %v", common.ErrAIUnavailable, ep.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: %s returned status %d", common.ErrAIUnavailable, ep.url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: reading ollama response: %v", common.ErrAIUnavailable, err)
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: malformed ollama response", common.ErrAIUnavailable)
	}

	var decision decisionSchema
	if err := json.Unmarshal([]byte(parsed.Response), &decision); err != nil {
		return decisionSchema{}, 0, 0, fmt.Errorf("%w: malformed decision JSON from model: %v", common.ErrAIUnavailable, err)
	}
	return decision, parsed.PromptEvalCount, parsed.EvalCount, nil
}
