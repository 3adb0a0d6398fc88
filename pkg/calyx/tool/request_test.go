package tool

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest_Query(t *testing.T) {
	args := map[string]any{
		"q":    "rain",
		"tags": []any{"a", "b"},
	}

	tests := []struct {
		name     string
		encoding QueryEncoding
		want     string
	}{
		{"repeat", QueryRepeat, "q=rain&tags=a&tags=b"},
		{"brackets", QueryBrackets, "q=rain&tags%5B%5D=a&tags%5B%5D=b"},
		{"comma", QueryComma, "q=rain&tags=a%2Cb"},
		{"default is repeat", "", "q=rain&tags=a&tags=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Name: "search", Method: "GET", QueryEncoding: tt.encoding}
			req, err := buildRequest(context.Background(), cfg, "https://api.example.com/search", nil, args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.URL.RawQuery)
		})
	}

	t.Run("appends to an existing query string", func(t *testing.T) {
		cfg := &Config{Name: "search", Method: "GET"}
		req, err := buildRequest(context.Background(), cfg, "https://api.example.com/search?v=1",
			nil, map[string]any{"q": "x"})
		require.NoError(t, err)
		assert.Equal(t, "v=1&q=x", req.URL.RawQuery)
	})

	t.Run("GET with no args leaves the URL alone", func(t *testing.T) {
		cfg := &Config{Name: "ping"}
		req, err := buildRequest(context.Background(), cfg, "https://api.example.com/ping", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "", req.URL.RawQuery)
		assert.Equal(t, http.MethodGet, req.Method)
	})
}

func TestBuildRequest_JSONBody(t *testing.T) {
	cfg := &Config{Name: "create", Method: "POST"}
	req, err := buildRequest(context.Background(), cfg, "https://api.example.com/items",
		map[string]string{"X-Trace": "t1"},
		map[string]any{"name": "Ada", "n": 2})
	require.NoError(t, err)

	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "t1", req.Header.Get("X-Trace"))
	// POST arguments go to the body, never the query string.
	assert.Equal(t, "", req.URL.RawQuery)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, map[string]any{"name": "Ada", "n": 2.0}, decoded)
}

func TestBuildRequest_GraphQLBody(t *testing.T) {
	cfg := &Config{
		Name:         "gql",
		Method:       "POST",
		Body:         BodyGraphQL,
		GraphQLQuery: "query($id: ID!) { user(id: $id) { name } }",
	}
	req, err := buildRequest(context.Background(), cfg, "https://api.example.com/graphql",
		nil, map[string]any{"id": "u1"})
	require.NoError(t, err)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, cfg.GraphQLQuery, decoded["query"])
	assert.Equal(t, map[string]any{"id": "u1"}, decoded["variables"])
}

func TestBuildRequest_MultipartBody(t *testing.T) {
	cfg := &Config{Name: "upload", Method: "POST", Body: BodyMultipart}
	req, err := buildRequest(context.Background(), cfg, "https://api.example.com/upload",
		nil, map[string]any{
			"file":  []byte("payload"),
			"label": "report",
		})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	r := multipart.NewReader(req.Body, params["boundary"])
	form, err := r.ReadForm(1 << 20)
	require.NoError(t, err)

	assert.Equal(t, []string{"report"}, form.Value["label"])
	require.Len(t, form.File["file"], 1)
	f, err := form.File["file"][0].Open()
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestConfig_Idempotent(t *testing.T) {
	for method, want := range map[string]bool{
		"": true, "GET": true, "HEAD": true, "OPTIONS": true,
		"PUT": true, "DELETE": true, "POST": false, "PATCH": false,
	} {
		cfg := &Config{Method: method}
		assert.Equal(t, want, cfg.Idempotent(), "method %q", method)
	}
}

func TestConfig_Policy(t *testing.T) {
	cfg := &Config{
		Method:        "POST",
		MaxRetries:    3,
		RetryOnStatus: []int{503},
	}
	p := cfg.Policy(10 * time.Second)
	assert.Equal(t, 3, p.MaxRetries)
	assert.False(t, p.Idempotent)
	assert.Equal(t, []int{503}, p.RetryOnStatus)
	// Zero timeout falls back to the engine default.
	assert.Equal(t, 10*time.Second, p.Timeout)

	cfg.Timeout = time.Second
	assert.Equal(t, time.Second, cfg.Policy(10*time.Second).Timeout)
}

func TestBuildRequest_InvalidURL(t *testing.T) {
	cfg := &Config{Name: "bad"}
	_, err := buildRequest(context.Background(), cfg, "://nope", nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad"))
}
