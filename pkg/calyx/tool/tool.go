// Package tool executes external tool definitions declared by Calyx
// programs.
//
// A tool call applies auth (bearer injection, OAuth2 client credentials,
// JWT signing), builds the request (JSON, multipart, or GraphQL body, plus
// one of three query-string encodings), and validates the response against
// an optional schema. Results come back in a uniform {ok, data|error}
// envelope; ordinary request failures never raise past the step boundary.
package tool

import (
	"time"

	"github.com/calyxlang/calyx/pkg/calyx/resilience"
)

// BodyKind selects how arguments are encoded into the request body.
type BodyKind string

// Body encodings.
const (
	BodyJSON      BodyKind = "json"
	BodyMultipart BodyKind = "multipart"
	BodyGraphQL   BodyKind = "graphql"
)

// QueryEncoding selects how list values are encoded into the query string.
type QueryEncoding string

// Query-string encodings for list parameters.
const (
	// QueryRepeat repeats the key: ?tag=a&tag=b
	QueryRepeat QueryEncoding = "repeat"

	// QueryBrackets suffixes the key: ?tag[]=a&tag[]=b
	QueryBrackets QueryEncoding = "brackets"

	// QueryComma joins values: ?tag=a,b
	QueryComma QueryEncoding = "comma"
)

// AuthKind selects the auth strategy applied to requests.
type AuthKind string

// Auth strategies.
const (
	AuthNone   AuthKind = ""
	AuthBearer AuthKind = "bearer"
	AuthOAuth2 AuthKind = "oauth2"
	AuthJWT    AuthKind = "jwt"
)

// AuthConfig configures request authentication.
type AuthConfig struct {
	Kind AuthKind `json:"kind"`

	// Token is the static bearer token for AuthBearer.
	Token string `json:"token,omitempty"`

	// ClientID, ClientSecret, and TokenURL configure the OAuth2
	// client-credentials grant. Fetched tokens are cached and refreshed
	// by the token source.
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	// SigningKey, Issuer, Subject, Audience, and TTL configure JWT signing
	// (HS256). A fresh token is minted per request.
	SigningKey string        `json:"signing_key,omitempty"`
	Issuer     string        `json:"issuer,omitempty"`
	Subject    string        `json:"subject,omitempty"`
	Audience   string        `json:"audience,omitempty"`
	TTL        time.Duration `json:"ttl,omitempty"`
}

// Config is a validated tool definition held by the tool registry.
type Config struct {
	// Name identifies the tool.
	Name string `json:"name"`

	// Method is the HTTP method. Defaults to GET.
	Method string `json:"method,omitempty"`

	// URL is the endpoint; ${var} placeholders expand against FlowState.
	URL string `json:"url"`

	// Headers are added to every request after placeholder expansion.
	Headers map[string]string `json:"headers,omitempty"`

	// Auth configures request authentication.
	Auth *AuthConfig `json:"auth,omitempty"`

	// Body selects the body encoding for methods that carry one.
	Body BodyKind `json:"body,omitempty"`

	// QueryEncoding selects the list encoding. Defaults to QueryRepeat.
	QueryEncoding QueryEncoding `json:"query_encoding,omitempty"`

	// GraphQLQuery is the query document for BodyGraphQL; step arguments
	// become the variables object.
	GraphQLQuery string `json:"graphql_query,omitempty"`

	// Schema optionally validates the response payload.
	Schema *Schema `json:"schema,omitempty"`

	// Timeout bounds each attempt. Zero falls back to the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries and BackoffBase configure the retry policy.
	MaxRetries  int           `json:"max_retries,omitempty"`
	BackoffBase time.Duration `json:"backoff_base,omitempty"`

	// RetryOnStatus restricts retries to the listed HTTP statuses.
	RetryOnStatus []int `json:"retry_on_status,omitempty"`

	// RetryNonIdempotent opts a non-idempotent method into retries. By
	// default only idempotent methods are retried.
	RetryNonIdempotent bool `json:"retry_non_idempotent,omitempty"`

	// RatePerMinute and RateBurst configure the per-tool token bucket.
	// Zero disables rate limiting.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
	RateBurst     int `json:"rate_burst,omitempty"`
}

// Idempotent reports whether the tool's method is safe to retry by default.
func (c *Config) Idempotent() bool {
	switch c.Method {
	case "", "GET", "HEAD", "OPTIONS", "PUT", "DELETE":
		return true
	default:
		return false
	}
}

// Policy derives the resilience policy for this tool, with fallback to the
// given default timeout.
func (c *Config) Policy(defaultTimeout time.Duration) resilience.Policy {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return resilience.Policy{
		Timeout:            timeout,
		MaxRetries:         c.MaxRetries,
		BackoffBase:        c.BackoffBase,
		RetryOnStatus:      c.RetryOnStatus,
		Idempotent:         c.Idempotent(),
		RetryNonIdempotent: c.RetryNonIdempotent,
	}
}

// Envelope is the uniform result of a tool call. Ordinary request failures
// set OK false and Error instead of raising.
type Envelope struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Map converts the envelope to the map shape stored into FlowState.
func (e Envelope) Map() map[string]any {
	out := map[string]any{"ok": e.OK}
	if e.Status != 0 {
		out["status"] = e.Status
	}
	if e.Data != nil {
		out["data"] = e.Data
	}
	if e.Error != "" {
		out["error"] = e.Error
	}
	return out
}
