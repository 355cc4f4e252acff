package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP provider client.
type ClientConfig struct {
	TTSBaseURL        string
	VCBaseURL         string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           120 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Client talks to the remote TTS and voice-conversion APIs. Requests are
// throttled with a shared limiter so bursts of worker dispatches do not trip
// the provider's rate limits; each call is made exactly once.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     ClientConfig
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultClientConfig().RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultClientConfig().Burst
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		config:     config,
	}
}

type ttsRequest struct {
	Text  string      `json:"text"`
	Voice VoiceParams `json:"voice"`
}

// SynthesizeSpeech posts text to the provider and returns the audio bytes.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, params VoiceParams) ([]byte, error) {
	const op = "synthesize speech"

	body, err := json.Marshal(ttsRequest{Text: text, Voice: params})
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}

	resp, err := c.post(ctx, c.config.TTSBaseURL+"/v1/synthesize", body)
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Op: op, Status: resp.StatusCode}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}
	if len(audio) == 0 {
		return nil, &Error{Op: op, Cause: fmt.Errorf("provider returned empty audio")}
	}
	return audio, nil
}

type vcRequest struct {
	SourceURL string `json:"sourceUrl"`
	VoiceID   string `json:"voiceId"`
}

type vcResponse struct {
	AudioURL string `json:"audioUrl"`
}

// ConvertVoice asks the provider to re-render source audio in the target
// voice and returns the converted audio's reference.
func (c *Client) ConvertVoice(ctx context.Context, sourceRef, voiceID string) (string, error) {
	const op = "convert voice"

	body, err := json.Marshal(vcRequest{SourceURL: sourceRef, VoiceID: voiceID})
	if err != nil {
		return "", &Error{Op: op, Cause: err}
	}

	resp, err := c.post(ctx, c.config.VCBaseURL+"/v1/convert", body)
	if err != nil {
		return "", &Error{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &Error{Op: op, Status: resp.StatusCode}
	}

	var out vcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Op: op, Cause: err}
	}
	if strings.TrimSpace(out.AudioURL) == "" {
		return "", &Error{Op: op, Cause: fmt.Errorf("provider returned no audio url")}
	}
	return out.AudioURL, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return c.httpClient.Do(req)
}
