package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubChecker struct {
	ok  bool
	err error
}

func (s stubChecker) Configured(context.Context) (bool, error) { return s.ok, s.err }

func TestCheckCredentials(t *testing.T) {
	cases := []struct {
		name    string
		checker stubChecker
		want    bool
		message string
	}{
		{"configured", stubChecker{ok: true}, true, "LINE credentials configured"},
		{"missing", stubChecker{}, false, "LINE credentials are not configured; login and webhook verification will fail"},
		{"error", stubChecker{err: errors.New("db down")}, false, "could not check LINE credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			got := checkCredentials(context.Background(), tc.checker, zap.New(core))
			require.Equal(t, tc.want, got)
			require.Equal(t, 1, logs.FilterMessage(tc.message).Len())
		})
	}
}
