package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/credential"
)

// ConfigurationChecker reports whether the global LINE channel is usable.
type ConfigurationChecker interface {
	Configured(ctx context.Context) (bool, error)
}

// CheckCredentials logs an operator-facing warning at startup when no global
// LINE channel is configured. It never blocks startup: credentials can be
// added later through the admin API.
func CheckCredentials(lc fx.Lifecycle, store *credential.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			checkCredentials(ctx, store, logger)
			return nil
		},
	})
}

func checkCredentials(ctx context.Context, checker ConfigurationChecker, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.L()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := checker.Configured(ctx)
	switch {
	case err != nil:
		logger.Warn("could not check LINE credentials", zap.Error(err))
		return false
	case !ok:
		logger.Warn("LINE credentials are not configured; login and webhook verification will fail",
			zap.String("channel_id_env", credential.EnvKey(credential.FieldChannelID)),
			zap.String("channel_secret_env", credential.EnvKey(credential.FieldChannelSecret)),
		)
		return false
	}
	logger.Info("LINE credentials configured")
	return true
}
