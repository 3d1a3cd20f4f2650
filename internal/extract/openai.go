package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// OpenAIEngine extracts categorized clinical data via chat completions. The
// client is injected so tests can point it at a stub server and so two
// differently-configured engines can coexist.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *logrus.Entry
}

func NewOpenAIEngine(client *openai.Client, modelName string, timeout time.Duration, log *logrus.Logger) *OpenAIEngine {
	return &OpenAIEngine{
		client:  client,
		model:   modelName,
		timeout: timeout,
		log:     log.WithField("component", "extract.openai"),
	}
}

func (e *OpenAIEngine) Name() string { return "openai/" + e.model }

// rawExtraction mirrors the JSON the model is instructed to return.
type rawExtraction struct {
	Categories []struct {
		Type             string             `json:"type"`
		Confidence       float64            `json:"confidence"`
		Data             map[string]any     `json:"data"`
		FieldConfidences map[string]float64 `json:"field_confidences"`
	} `json:"categories"`
	OverallConfidence float64 `json:"overall_confidence"`
}

func (e *OpenAIEngine) Extract(ctx context.Context, transcript string, ec Context) (*Extraction, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("empty transcript")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(transcript, ec)},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction model returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		// Some models wrap JSON in markdown fences despite the response
		// format hint.
		if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
			return nil, fmt.Errorf("parse extraction response: %w", err)
		}
	}

	out := &Extraction{
		OverallConfidence: clamp01(raw.OverallConfidence),
		ModelVersion:      resp.Model,
	}
	if out.ModelVersion == "" {
		out.ModelVersion = e.model
	}
	for _, c := range raw.Categories {
		if len(c.Data) == 0 {
			continue
		}
		fc := c.FieldConfidences
		for k, v := range fc {
			fc[k] = clamp01(v)
		}
		out.Categories = append(out.Categories, model.Category{
			Type:             strings.ToLower(strings.TrimSpace(c.Type)),
			Confidence:       clamp01(c.Confidence),
			Data:             c.Data,
			FieldConfidences: fc,
		})
	}
	if len(out.Categories) == 0 {
		return nil, fmt.Errorf("extraction produced no categories")
	}

	e.log.WithFields(logrus.Fields{
		"categories": len(out.Categories),
		"confidence": out.OverallConfidence,
		"tokens":     resp.Usage.TotalTokens,
		"elapsed":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("extraction complete")

	return out, nil
}

func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return fmt.Errorf("extraction request rejected: %w", err)
	}
	// Transport-level failures (connection refused, DNS) come back as plain
	// errors from the HTTP client.
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
