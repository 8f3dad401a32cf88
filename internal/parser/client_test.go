package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-dazzeo/realm/internal/apperr"
)

func newServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", 2*time.Second)
}

func TestParseSuccess(t *testing.T) {
	var got parseRequest
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"success": true,
			"version": "1.4.0",
			"data": {
				"project_summary": {"programs": 1},
				"files": {"src/a.cbl": {"language": "cobol", "functions": ["MAIN"], "complexity": 3, "extra": true}},
				"dependencies": [],
				"architecture": {}
			}
		}`))
	})

	resp, err := client.Parse(context.Background(), "payroll", []File{{Filename: "a.cbl", RelativePath: "src/a.cbl", Content: "X", Size: 1}})
	require.NoError(t, err)

	assert.Equal(t, "payroll", got.ProjectName)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "src/a.cbl", got.Files[0].RelativePath)

	assert.Equal(t, "1.4.0", resp.Version)
	fa, ok := resp.Data.Files["src/a.cbl"]
	require.True(t, ok)
	assert.Equal(t, "cobol", fa.Language)
	assert.JSONEq(t, `["MAIN"]`, string(fa.Functions))
	assert.Contains(t, string(fa.Raw), `"extra": true`)
}

func TestParseFailuresAreParserErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		message string
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			message: "parser service error: 500",
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": false, "error": "syntax error in a.cbl"}`))
			},
			message: "parser failed: syntax error in a.cbl",
		},
		{
			name: "schema mismatch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": "yes"}`))
			},
			message: "parser returned an unreadable response",
		},
		{
			name: "missing data",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": true, "version": "1"}`))
			},
			message: "parser response is missing data",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newServer(t, tc.handler)
			_, err := client.Parse(context.Background(), "p", nil)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindParser))
			assert.Equal(t, tc.message, apperr.PublicMessage(err))
		})
	}
}

func TestParseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewHTTPClient(srv.URL, 50*time.Millisecond)
	_, err := client.Parse(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParser))
	assert.Equal(t, "parser service timed out", apperr.PublicMessage(err))
}

func TestParseUnreachable(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", time.Second)
	_, err := client.Parse(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, "parser service unavailable", apperr.PublicMessage(err))
}

func TestHealth(t *testing.T) {
	healthy := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	st := healthy.Health(context.Background())
	assert.True(t, st.Available)
	assert.Equal(t, StatusHealthy, st.Status)

	unhealthy := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	st = unhealthy.Health(context.Background())
	assert.False(t, st.Available)
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Equal(t, "HTTP 503", st.Detail)

	st = NewHTTPClient("http://127.0.0.1:1", time.Second).Health(context.Background())
	assert.Equal(t, StatusUnreachable, st.Status)
}
