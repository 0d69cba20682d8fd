// Package tts consumes the external speech-synthesis engine over HTTP.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discord-ai-bridge/internal/logging"
)

// Client posts reply text to the engine's /synthesize endpoint and receives
// raw audio bytes (WAV-framed mono PCM).
type Client struct {
	BaseURL string
	Voice   string
	Speed   float64
	HTTP    *http.Client
}

func NewClient(baseURL, voice string, speed float64, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Voice:   voice,
		Speed:   speed,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// Voice describes one synthesis voice the engine can render.
type Voice struct {
	Name       string `json:"name"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Available  bool   `json:"available"`
}

// Synthesize renders text to audio. The response body is returned verbatim.
func (c *Client) Synthesize(ctx context.Context, text, correlationID string) ([]byte, error) {
	payload, _ := json.Marshal(synthesizeRequest{Text: text, Voice: c.Voice, Speed: c.Speed})
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.Debugw("tts: synthesized", "bytes", len(audio), "correlation_id", correlationID)
	return audio, nil
}

// Voices lists the engine's available voice descriptors.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("voices returned status %d", resp.StatusCode)
	}
	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("voices decode: %w", err)
	}
	return voices, nil
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
