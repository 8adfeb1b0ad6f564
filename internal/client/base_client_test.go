package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/client"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

func TestBaseClient_Do_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected Accept application/json, got %s", r.Header.Get("Accept"))
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("Expected no Content-Type on a bodyless request, got %s", r.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	bc := client.NewBaseClient(server.URL, 10*time.Second, nil, logger.NewDiscard())

	resp, err := bc.Do(context.Background(), http.MethodGet, "/test", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBaseClient_Do_POST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("Expected X-Custom header to be forwarded")
		}

		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"test"}` {
			t.Errorf("Unexpected body %q", body)
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	bc := client.NewBaseClient(server.URL, 10*time.Second, nil, logger.NewDiscard())

	header := http.Header{}
	header.Set("X-Custom", "yes")
	resp, err := bc.Do(context.Background(), http.MethodPost, "/create", []byte(`{"name":"test"}`), header)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestBaseClient_Do_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bc := client.NewBaseClient(server.URL, 10*time.Second, nil, logger.NewDiscard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bc.Do(ctx, http.MethodGet, "/slow", nil, nil)
	assert.Error(t, err)
}

func TestBaseClient_ResolveURL(t *testing.T) {
	bc := client.NewBaseClient("http://localhost:3001/", time.Second, nil, logger.NewDiscard())

	tests := []struct {
		target string
		want   string
	}{
		{"/api/auth/status", "http://localhost:3001/api/auth/status"},
		{"api/thing", "http://localhost:3001/api/thing"},
		{"https://other.example.com/x", "https://other.example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, bc.ResolveURL(tt.target))
		})
	}
	assert.Equal(t, "http://localhost:3001", bc.BaseURL())
}

func TestParseErrorMessage(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"message field", "application/json", `{"message":"Unauthorized"}`, "Unauthorized"},
		{"error field", "application/json", `{"error":"bad_request"}`, "bad_request"},
		{"with detail", "application/json", `{"error":"invalid","detail":"name missing"}`, "invalid - name missing"},
		{"plain text", "text/plain; charset=utf-8", "  Forbidden  \n", "Forbidden"},
		{"html ignored", "text/html", "<h1>oops</h1>", ""},
		{"empty", "application/json", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				Header: http.Header{"Content-Type": []string{tt.contentType}},
				Body:   io.NopCloser(strings.NewReader(tt.body)),
			}
			assert.Equal(t, tt.want, client.ParseErrorMessage(resp))
		})
	}
}
