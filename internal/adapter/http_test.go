package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeSpeech(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/synthesize", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello there", req.Text)
		assert.Equal(t, "voice-7", req.Voice.VoiceID)

		w.Write([]byte("fake-audio-bytes"))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{TTSBaseURL: srv.URL, APIKey: "secret"})
	audio, err := c.SynthesizeSpeech(context.Background(), "hello there", VoiceParams{VoiceID: "voice-7"})
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-audio-bytes"), audio)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesizeSpeechProviderError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "voice not found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{TTSBaseURL: srv.URL})
	_, err := c.SynthesizeSpeech(context.Background(), "x", VoiceParams{VoiceID: "nope"})
	require.Error(t, err)

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, http.StatusUnprocessableEntity, aerr.Status)

	// Single attempt, no retries.
	assert.Equal(t, int32(1), calls.Load())
}

func TestConvertVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/convert", r.URL.Path)

		var req vcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn/source.wav", req.SourceURL)
		assert.Equal(t, "voice-2", req.VoiceID)

		json.NewEncoder(w).Encode(vcResponse{AudioURL: "https://cdn/converted.wav"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{VCBaseURL: srv.URL})
	ref, err := c.ConvertVoice(context.Background(), "https://cdn/source.wav", "voice-2")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/converted.wav", ref)
}

func TestConvertVoiceEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vcResponse{})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{VCBaseURL: srv.URL})
	_, err := c.ConvertVoice(context.Background(), "src.wav", "voice-2")
	require.Error(t, err)
}

func TestSynthesizeSpeechEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{TTSBaseURL: srv.URL})
	_, err := c.SynthesizeSpeech(context.Background(), "x", VoiceParams{VoiceID: "v"})
	require.Error(t, err)
}
