package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// WhisperEngine talks to the faster-whisper sidecar, a small FastAPI service
// exposing POST /transcribe (multipart "file") and GET /health.
type WhisperEngine struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewWhisperEngine builds an engine against baseURL with a hard per-call
// timeout.
func NewWhisperEngine(baseURL string, timeout time.Duration, log *logrus.Logger) *WhisperEngine {
	return &WhisperEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.WithField("component", "stt.whisper"),
	}
}

func (e *WhisperEngine) Name() string { return "whisper" }

// whisperResponse mirrors the sidecar's JSON. Numeric fields arrive as
// strings ("language_probability": "0.9871").
type whisperResponse struct {
	Status              string `json:"status"`
	Error               string `json:"error,omitempty"`
	Language            string `json:"language"`
	LanguageProbability string `json:"language_probability"`
	Duration            string `json:"duration"`
	FullText            string `json:"full_text"`
	Segments            []struct {
		Start string `json:"start"`
		End   string `json:"end"`
		Text  string `json:"text"`
	} `json:"segments"`
}

func (e *WhisperEngine) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (*Result, error) {
	start := time.Now()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	size, err := io.Copy(part, audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if size < 1000 {
		return nil, model.InvalidInput(fmt.Sprintf("audio too small (%d bytes), likely empty or corrupted", size))
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("build multipart body: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEngineUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngineUnavailable, resp.StatusCode, preview(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper returned status %d: %s", resp.StatusCode, preview(raw))
	}

	var wr whisperResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("parse whisper response: %w", err)
	}
	if wr.Status == "error" {
		return nil, fmt.Errorf("whisper error: %s", wr.Error)
	}

	text := strings.TrimSpace(wr.FullText)
	if text == "" {
		// Assemble from segments before giving up; older sidecar builds
		// omitted full_text.
		var b strings.Builder
		for _, seg := range wr.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		text = b.String()
	}
	if text == "" {
		return nil, fmt.Errorf("no speech detected in audio")
	}

	durationSec, err := strconv.ParseFloat(wr.Duration, 64)
	if err != nil {
		// Older sidecar builds omit duration; the estimator falls back to the
		// upload's own duration metadata.
		durationSec = 0
	}

	e.log.WithFields(logrus.Fields{
		"language":    wr.Language,
		"chars":       len(text),
		"audio_bytes": size,
		"elapsed":     time.Since(start).Round(time.Millisecond).String(),
	}).Info("transcription complete")

	return &Result{
		Text:            text,
		Language:        wr.Language,
		DurationSeconds: durationSec,
	}, nil
}

// Ping checks GET /health.
func (e *WhisperEngine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
