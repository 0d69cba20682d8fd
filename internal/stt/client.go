// Package stt consumes the external speech-to-text engine over HTTP.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/discord-ai-bridge/internal/logging"
)

// Client posts WAV-framed utterances to the engine's /transcribe endpoint.
type Client struct {
	BaseURL  string
	Language string // optional hint forwarded with each request
	HTTP     *http.Client
}

func NewClient(baseURL, language string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Language: language,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe sends one WAV buffer and returns the transcript text. Transient
// transport errors and 5xx responses are retried with exponential backoff;
// other non-2xx statuses fail immediately.
func (c *Client) Transcribe(ctx context.Context, wav []byte, correlationID string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("audio_file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", err
	}
	if c.Language != "" {
		_ = mw.WriteField("language", c.Language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/transcribe", bytes.NewReader(body.Bytes()))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			logging.Warnw("stt: request failed", "attempt", attempt, "err", err, "correlation_id", correlationID)
			if !sleepBackoff(ctx, attempt) {
				return "", ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("stt server error status=%d", resp.StatusCode)
			logging.Warnw("stt: server error", "status", resp.StatusCode, "attempt", attempt, "correlation_id", correlationID)
			if !sleepBackoff(ctx, attempt) {
				return "", ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return "", fmt.Errorf("stt returned status %d", resp.StatusCode)
		}

		var out transcribeResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("stt response decode: %w", err)
		}
		return strings.TrimSpace(out.Text), nil
	}
	return "", lastErr
}

// Healthy reports whether the engine's health endpoint answers 200.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	t := time.NewTimer(time.Duration(200*(1<<attempt)) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// IsHallucination flags degenerate transcripts the model sometimes emits for
// near-silent audio: text whose distinct non-whitespace characters number
// two or fewer (runs of "....", "!!", single repeated glyphs).
func IsHallucination(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	distinct := make(map[rune]struct{})
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		distinct[r] = struct{}{}
		if len(distinct) > 2 {
			return false
		}
	}
	return len(distinct) <= 2
}
