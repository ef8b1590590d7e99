package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/acedatacloud/roadmapd/pkg/config"
)

// Summarizer turns a merged PR into external-facing release-note copy.
type Summarizer struct {
	client *openai.Client
	config config.LLMConfig
}

// NewSummarizer creates an LLM summarizer from the llm config section.
func NewSummarizer(cfg config.LLMConfig) *Summarizer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	return &Summarizer{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

const summarizerSystemPrompt = `You write formal, external-facing release notes for merged GitHub PRs.
Return ONLY a JSON object with keys: title, summary, tags.
- title: short, professional, <= 90 chars, no trailing period.
- summary: 2-4 sentences, factual, avoid speculation; mention key changes and impact.
- tags: 0-6 short lower-case tags; avoid duplicates.
`

// SummarizeRequest carries the PR context handed to the model.
type SummarizeRequest struct {
	Org          string     `json:"org"`
	Repo         string     `json:"repo"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Files        []PullFile `json:"files"`
	PatchExcerpt string     `json:"patch_excerpt"`
}

// SummarizeResult is the model's release-note rendition. Empty fields mean
// the model declined or produced unusable output for that field.
type SummarizeResult struct {
	Title   string
	Summary string
	Tags    []string
}

// Summarize asks the model for a title, summary and tags for one PR.
func (s *Summarizer) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Temperature: float32(s.config.Temperature),
		MaxTokens:   s.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	parsed := extractJSONObject(resp.Choices[0].Message.Content)
	if parsed == nil {
		return nil, fmt.Errorf("no JSON object in response")
	}

	result := &SummarizeResult{
		Title:   strings.TrimSpace(parsed.Title),
		Summary: strings.TrimSpace(parsed.Summary),
	}
	seen := map[string]bool{}
	for _, t := range parsed.Tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		result.Tags = append(result.Tags, t)
	}
	return result, nil
}

type summarizerOutput struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject parses the model output, tolerating prose around the
// JSON object.
func extractJSONObject(content string) *summarizerOutput {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var out summarizerOutput
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return &out
	}
	m := jsonObjectRe.FindString(content)
	if m == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(m), &out); err != nil {
		return nil
	}
	return &out
}
