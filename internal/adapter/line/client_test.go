package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	domainoauth "github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
)

func TestExchangeCodeSuccess(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/v2.1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":2592000,"token_type":"Bearer","id_token":"idt","scope":"profile openid"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	token, err := client.ExchangeCode(context.Background(), Channel{ID: "1234", Secret: "s3cret"}, "the-code", "https://app.example.com/auth/line/callback")
	require.NoError(t, err)

	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "the-code", form.Get("code"))
	require.Equal(t, "https://app.example.com/auth/line/callback", form.Get("redirect_uri"))
	require.Equal(t, "1234", form.Get("client_id"))
	require.Equal(t, "s3cret", form.Get("client_secret"))

	require.Equal(t, "at", token.AccessToken)
	require.Equal(t, "rt", token.RefreshToken)
	require.Equal(t, int64(2592000), token.ExpiresIn)
	require.Equal(t, "idt", token.IDToken)
}

func TestExchangeCodeInvalidGrantIsAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	_, err := client.ExchangeCode(context.Background(), Channel{ID: "1", Secret: "s"}, "stale", "https://x/cb")
	require.ErrorIs(t, err, domainoauth.ErrAuthentication)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "invalid_grant", apiErr.Code)
	require.Equal(t, "code expired", apiErr.Message)
}

func TestExchangeCodeServerErrorIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	_, err := client.ExchangeCode(context.Background(), Channel{ID: "1", Secret: "s"}, "c", "https://x/cb")
	require.ErrorIs(t, err, domainoauth.ErrNetwork)
	require.NotErrorIs(t, err, domainoauth.ErrAuthentication)
}

func TestExchangeCodeRateLimitIsAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	_, err := client.ExchangeCode(context.Background(), Channel{ID: "1", Secret: "s"}, "c", "https://x/cb")
	require.ErrorIs(t, err, domainoauth.ErrAuthentication)
	require.NotErrorIs(t, err, domainoauth.ErrNetwork)
}

func TestUndecodableSuccessBodyIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	_, err := client.ExchangeCode(context.Background(), Channel{ID: "1", Secret: "s"}, "c", "https://x/cb")
	require.ErrorIs(t, err, domainoauth.ErrNetwork)

	_, err = client.FetchProfile(context.Background(), "at")
	require.ErrorIs(t, err, domainoauth.ErrNetwork)
	require.NotErrorIs(t, err, domainoauth.ErrAuthentication)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := NewHTTPClient(&http.Client{}, base, base)
	_, err := client.FetchProfile(context.Background(), "at")
	require.ErrorIs(t, err, domainoauth.ErrNetwork)
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/profile", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"userId":"U1","displayName":"Alice","pictureUrl":"https://img/a.png","statusMessage":"hi"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)

	profile, err := client.FetchProfile(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "U1", profile.UserID)
	require.Equal(t, "Alice", profile.DisplayName)
	require.Equal(t, "https://img/a.png", profile.PictureURL)

	_, err = client.FetchProfile(context.Background(), "bad")
	require.ErrorIs(t, err, domainoauth.ErrAuthentication)
}

func TestReplyAndPushPayloads(t *testing.T) {
	type captured struct {
		path     string
		auth     string
		retryKey string
		body     map[string]any
	}
	var calls []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		calls = append(calls, captured{
			path:     r.URL.Path,
			auth:     r.Header.Get("Authorization"),
			retryKey: r.Header.Get("X-Line-Retry-Key"),
			body:     body,
		})
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Reply(ctx, "bot-token", "rt-1", NewText("hello")))
	require.NoError(t, client.Push(ctx, "bot-token", "U1", NewFlex("card", map[string]any{"type": "bubble"})))

	require.Len(t, calls, 2)

	require.Equal(t, "/v2/bot/message/reply", calls[0].path)
	require.Equal(t, "Bearer bot-token", calls[0].auth)
	require.Equal(t, "rt-1", calls[0].body["replyToken"])
	msgs := calls[0].body["messages"].([]any)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"type": "text", "text": "hello"}, msgs[0])

	require.Equal(t, "/v2/bot/message/push", calls[1].path)
	require.Equal(t, "U1", calls[1].body["to"])
	require.NotEmpty(t, calls[1].retryKey)
	flex := calls[1].body["messages"].([]any)[0].(map[string]any)
	require.Equal(t, "flex", flex["type"])
	require.Equal(t, "card", flex["altText"])
}

func TestBotProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/bot/profile/U42", r.URL.Path)
		_, _ = w.Write([]byte(`{"userId":"U42","displayName":"Bob"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), srv.URL, srv.URL)
	profile, err := client.Profile(context.Background(), "bot-token", "U42")
	require.NoError(t, err)
	require.Equal(t, "Bob", profile.DisplayName)
}

func TestAuthorizeURLUsesConfiguredBase(t *testing.T) {
	client := NewHTTPClient(nil, "https://login.test/", "")
	require.Equal(t, "https://login.test/oauth2/v2.1/authorize", client.AuthorizeURL())
	require.Equal(t, DefaultAPIBaseURL, client.apiBase)
}
