package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	httpHandler "github.com/losehrt/fhirlinebot-sub000/internal/http/handler"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook"
)

type fakeGateway struct {
	result    webhook.Result
	err       error
	body      []byte
	signature string
}

func (f *fakeGateway) Handle(ctx context.Context, body []byte, signature string) (webhook.Result, error) {
	f.body = body
	f.signature = signature
	return f.result, f.err
}

func newWebhookRouter(gw httpHandler.WebhookGateway, maxBytes int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := httpHandler.NewWebhookHandler(gw, maxBytes, zap.NewNop())
	r := gin.New()
	r.GET("/webhooks/line", h.Verify)
	r.POST("/webhooks/line", h.Receive)
	return r
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		result webhook.Result
		err    error
		status int
		body   string
	}{
		{"success", webhook.ResultSuccess, nil, http.StatusOK, `{"success":true}`},
		{"bad signature", webhook.ResultUnauthorized, domain.ErrSignature, http.StatusUnauthorized, `{"error":"Invalid signature"}`},
		{"bad json", webhook.ResultBadRequest, errors.New("parse"), http.StatusBadRequest, `{"error":"Invalid JSON"}`},
		{"failed", webhook.ResultFailed, errors.New("db down"), http.StatusUnprocessableEntity, `{"error":"Failed to process webhook"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{result: tc.result, err: tc.err}
			r := newWebhookRouter(gw, 0)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/line", strings.NewReader(`{"events":[]}`))
			req.Header.Set(webhook.SignatureHeader, "sig")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tc.status, w.Code)
			require.JSONEq(t, tc.body, w.Body.String())
			require.Equal(t, `{"events":[]}`, string(gw.body))
			require.Equal(t, "sig", gw.signature)
		})
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	gw := &fakeGateway{}
	r := newWebhookRouter(gw, 16)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/line", strings.NewReader(strings.Repeat("x", 64)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Nil(t, gw.body)
}

func TestWebhookVerifyAnswersConsoleCheck(t *testing.T) {
	r := newWebhookRouter(&fakeGateway{}, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/line", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true}`, w.Body.String())
}
