package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	domainoauth "github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
)

const (
	DefaultAuthBaseURL = "https://access.line.me"
	DefaultAPIBaseURL  = "https://api.line.me"

	maxResponseBytes = 1 << 20
)

// Channel identifies the LINE channel a call is made for.
type Channel struct {
	ID     string
	Secret string
}

// LoginClient covers the LINE Login endpoints used by the handshake.
type LoginClient interface {
	AuthorizeURL() string
	ExchangeCode(ctx context.Context, channel Channel, code, redirectURI string) (*domainoauth.TokenResponse, error)
	RefreshToken(ctx context.Context, channel Channel, refreshToken string) (*domainoauth.TokenResponse, error)
	FetchProfile(ctx context.Context, accessToken string) (*domainoauth.Profile, error)
	RevokeToken(ctx context.Context, channel Channel, accessToken string) error
}

// MessagingClient covers the Messaging API endpoints used by webhook handlers.
type MessagingClient interface {
	Reply(ctx context.Context, accessToken, replyToken string, messages ...Message) error
	Push(ctx context.Context, accessToken, to string, messages ...Message) error
	Profile(ctx context.Context, accessToken, userID string) (*domain.LineProfile, error)
}

// APIError is returned for non-2xx LINE responses. It unwraps to
// oauth.ErrNetwork for 5xx and to oauth.ErrAuthentication for any 4xx.
type APIError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("line %s: status=%d", e.Endpoint, e.Status)
	if e.Code != "" {
		msg += " error=" + e.Code
	}
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	return msg
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status >= 500:
		return domainoauth.ErrNetwork
	case e.Status >= 400:
		return domainoauth.ErrAuthentication
	default:
		return nil
	}
}

// HTTPClient is the default implementation of LoginClient and MessagingClient.
type HTTPClient struct {
	httpClient *http.Client
	authBase   string
	apiBase    string
}

var (
	_ LoginClient     = (*HTTPClient)(nil)
	_ MessagingClient = (*HTTPClient)(nil)
)

// NewHTTPClient constructs the client. Empty base URLs fall back to LINE production hosts.
func NewHTTPClient(client *http.Client, authBaseURL, apiBaseURL string) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		httpClient: client,
		authBase:   strings.TrimRight(coalesce(authBaseURL, DefaultAuthBaseURL), "/"),
		apiBase:    strings.TrimRight(coalesce(apiBaseURL, DefaultAPIBaseURL), "/"),
	}
}

// AuthorizeURL returns the LINE Login authorization endpoint.
func (c *HTTPClient) AuthorizeURL() string {
	return c.authBase + "/oauth2/v2.1/authorize"
}

// ExchangeCode performs the authorization_code grant.
func (c *HTTPClient) ExchangeCode(ctx context.Context, channel Channel, code, redirectURI string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", channel.ID)
	data.Set("client_secret", channel.Secret)
	return c.tokenRequest(ctx, "token exchange", data)
}

// RefreshToken performs the refresh_token grant.
func (c *HTTPClient) RefreshToken(ctx context.Context, channel Channel, refreshToken string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", channel.ID)
	data.Set("client_secret", channel.Secret)
	return c.tokenRequest(ctx, "token refresh", data)
}

func (c *HTTPClient) tokenRequest(ctx context.Context, endpoint string, data url.Values) (*domainoauth.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/oauth2/v2.1/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode %s response: %w: %w", endpoint, domainoauth.ErrNetwork, err)
	}

	token := &domainoauth.TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		IDToken:      stringValue(raw["id_token"]),
		Scope:        stringValue(raw["scope"]),
		Raw:          raw,
	}
	if exp := raw["expires_in"]; exp != nil {
		token.ExpiresIn = int64Value(exp)
	}
	return token, nil
}

// FetchProfile loads the LINE Login profile of the token owner.
func (c *HTTPClient) FetchProfile(ctx context.Context, accessToken string) (*domainoauth.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "profile")
	if err != nil {
		return nil, err
	}

	var profile domainoauth.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w: %w", domainoauth.ErrNetwork, err)
	}
	return &profile, nil
}

// RevokeToken invalidates an access token at LINE.
func (c *HTTPClient) RevokeToken(ctx context.Context, channel Channel, accessToken string) error {
	data := url.Values{}
	data.Set("access_token", accessToken)
	data.Set("client_id", channel.ID)
	data.Set("client_secret", channel.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/oauth2/v2.1/revoke", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.do(req, "revoke")
	return err
}

// Reply answers an event with its single-use reply token.
func (c *HTTPClient) Reply(ctx context.Context, accessToken, replyToken string, messages ...Message) error {
	payload := struct {
		ReplyToken string    `json:"replyToken"`
		Messages   []Message `json:"messages"`
	}{ReplyToken: replyToken, Messages: messages}
	return c.postJSON(ctx, "reply", "/v2/bot/message/reply", accessToken, payload, nil)
}

// Push sends messages to a user, group or room id. Each call carries a fresh
// retry key so LINE deduplicates transport-level retries.
func (c *HTTPClient) Push(ctx context.Context, accessToken, to string, messages ...Message) error {
	payload := struct {
		To       string    `json:"to"`
		Messages []Message `json:"messages"`
	}{To: to, Messages: messages}
	headers := map[string]string{"X-Line-Retry-Key": uuid.NewString()}
	return c.postJSON(ctx, "push", "/v2/bot/message/push", accessToken, payload, headers)
}

// Profile loads the profile of a user who is a friend of the bot.
func (c *HTTPClient) Profile(ctx context.Context, accessToken, userID string) (*domain.LineProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("build bot profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, "bot profile")
	if err != nil {
		return nil, err
	}

	var profile domain.LineProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decode bot profile: %w: %w", domainoauth.ErrNetwork, err)
	}
	return &profile, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint, path, accessToken string, payload any, headers map[string]string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	_, err = c.do(req, endpoint)
	return err
}

func (c *HTTPClient) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w: %w", endpoint, domainoauth.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w: %w", endpoint, domainoauth.ErrNetwork, err)
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(endpoint, resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{Endpoint: endpoint, Status: status}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		apiErr.Code = stringValue(raw["error"])
		apiErr.Message = coalesce(stringValue(raw["error_description"]), stringValue(raw["message"]))
	}
	return apiErr
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if s, ok := any(v).(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if v != zero {
			return v
		}
	}
	return zero
}
