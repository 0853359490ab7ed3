package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/doc_gen_server/internal/model"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Model: "test-model", MaxTokens: 100, Timeout: 2 * time.Second})
}

func TestClient_Enrich_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "hello", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Serves the user API.\n- lists users\n- creates users"}}]}`))
	}))
	defer srv.Close()

	insight, err := newTestClient(srv.URL).Enrich(context.Background(), "key-1", model.EnrichmentRequest{Path: "a.py", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Serves the user API.", insight.Summary)
	assert.Equal(t, []string{"lists users", "creates users"}, insight.Behaviors)
}

func TestClient_Enrich_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		throttle  bool
		retry     time.Duration
		transient bool
	}{
		{name: "throttled with header", status: 429, header: "7", body: "{}", throttle: true, retry: 7 * time.Second},
		{name: "throttled with body hint", status: 429, body: `{"error":{"message":"Please try again in 5s."}}`, throttle: true, retry: 5 * time.Second},
		{name: "throttled without hint", status: 429, body: "{}", throttle: true},
		{name: "server error", status: 503, body: "unavailable", transient: true},
		{name: "bad request", status: 400, body: "bad model"},
		{name: "unauthorized", status: 401, body: "invalid key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Enrich(context.Background(), "k", model.EnrichmentRequest{Prompt: "p"})
			require.Error(t, err)

			var te *ThrottleError
			if tt.throttle {
				require.True(t, errors.As(err, &te))
				assert.Equal(t, tt.retry, te.RetryAfter)
				return
			}
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.transient, pe.Transient)
		})
	}
}

func TestClient_Enrich_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Enrich(context.Background(), "k", model.EnrichmentRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClient_Enrich_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Enrich(context.Background(), "k", model.EnrichmentRequest{Prompt: "p"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Transient)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		body   string
		want   time.Duration
	}{
		{"3", "", 3 * time.Second},
		{"1.5", "", 1500 * time.Millisecond},
		{"", "Rate limit reached. Please try again in 2.5s.", 2500 * time.Millisecond},
		{"", "Please try again in 450ms.", 450 * time.Millisecond},
		{"", "Please try again in 1m30s.", 90 * time.Second},
		{"", "Try Again In 4s", 4 * time.Second},
		{"", "slow down", 0},
		{"garbage", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.header+"|"+tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.header, tt.body))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	file := &model.SourceFile{
		Path:      "api/users.py",
		Language:  "python",
		Purpose:   "API Routes and Controllers",
		IsBackend: true,
		Preview:   "from flask import Flask",
		Symbols: []model.Symbol{
			{Kind: model.SymbolFunction, Name: "list_users"},
			{Kind: model.SymbolEndpoint, Name: "GET /users", Method: "GET", Route: "/users"},
		},
	}

	prompt := BuildPrompt(file)
	assert.True(t, strings.HasPrefix(prompt, "Analyze this python code file"))
	assert.Contains(t, prompt, "File: api/users.py\n")
	assert.Contains(t, prompt, "Purpose: API Routes and Controllers\n")
	assert.Contains(t, prompt, "Functions: 1\n")
	assert.Contains(t, prompt, "API Endpoints: 1\n")
	assert.Contains(t, prompt, "Backend File: true\n")
	assert.Contains(t, prompt, "Code Preview:\nfrom flask import Flask")
}

func TestParseInsight(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		summary   string
		behaviors []string
	}{
		{
			name:      "summary and bullets",
			content:   "This module routes requests.\nIt is small.\n\n* handles login\n* handles logout",
			summary:   "This module routes requests. It is small.",
			behaviors: []string{"handles login", "handles logout"},
		},
		{
			name:      "numbered with emphasis",
			content:   "## Overview\n1. **Description**: Parses config files.\n2. Validates fields",
			summary:   "Description: Parses config files.",
			behaviors: []string{"Validates fields"},
		},
		{
			name:    "plain text",
			content: "Just a sentence.",
			summary: "Just a sentence.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseInsight(tt.content)
			assert.Equal(t, tt.summary, got.Summary)
			assert.Equal(t, tt.behaviors, got.Behaviors)
		})
	}
}
