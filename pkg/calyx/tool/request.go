package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// buildRequest assembles the HTTP request for a tool call from its config
// and the resolved step arguments. The URL and headers have already been
// expanded against FlowState by the caller.
func buildRequest(ctx context.Context, cfg *Config, endpoint string, headers map[string]string, args map[string]any) (*http.Request, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	queryArgs := args

	if carriesBody(method) {
		var err error
		body, contentType, err = encodeBody(cfg, args)
		if err != nil {
			return nil, err
		}
		queryArgs = nil
	}

	if len(queryArgs) > 0 {
		encoded, err := encodeQuery(queryArgs, cfg.QueryEncoding)
		if err != nil {
			return nil, err
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request for tool %s: %w", cfg.Name, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// encodeBody produces the request body per the tool's body kind.
func encodeBody(cfg *Config, args map[string]any) (io.Reader, string, error) {
	switch cfg.Body {
	case BodyMultipart:
		return encodeMultipart(args)
	case BodyGraphQL:
		payload := map[string]any{
			"query":     cfg.GraphQLQuery,
			"variables": args,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encode graphql body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	default: // BodyJSON
		data, err := json.Marshal(args)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// encodeMultipart writes each argument as a form field. Byte-slice values
// become file parts named after their key.
func encodeMultipart(args map[string]any) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := sortedKeys(args)
	for _, k := range keys {
		switch v := args[k].(type) {
		case []byte:
			part, err := w.CreateFormFile(k, k)
			if err != nil {
				return nil, "", fmt.Errorf("create form file %q: %w", k, err)
			}
			if _, err := part.Write(v); err != nil {
				return nil, "", fmt.Errorf("write form file %q: %w", k, err)
			}
		default:
			if err := w.WriteField(k, fmt.Sprintf("%v", v)); err != nil {
				return nil, "", fmt.Errorf("write form field %q: %w", k, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// encodeQuery builds the query string, encoding list values per the tool's
// declared mode. Keys are emitted in sorted order for deterministic URLs.
func encodeQuery(args map[string]any, mode QueryEncoding) (string, error) {
	values := url.Values{}
	for _, k := range sortedKeys(args) {
		switch v := args[k].(type) {
		case []any:
			switch mode {
			case QueryBrackets:
				for _, item := range v {
					values.Add(k+"[]", fmt.Sprintf("%v", item))
				}
			case QueryComma:
				parts := make([]string, len(v))
				for i, item := range v {
					parts[i] = fmt.Sprintf("%v", item)
				}
				values.Add(k, strings.Join(parts, ","))
			default: // QueryRepeat
				for _, item := range v {
					values.Add(k, fmt.Sprintf("%v", item))
				}
			}
		default:
			values.Add(k, fmt.Sprintf("%v", v))
		}
	}
	return values.Encode(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
