package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

// Field names a resolvable LINE credential.
type Field string

const (
	FieldChannelID     Field = "channel_id"
	FieldChannelSecret Field = "channel_secret"
	FieldRedirectURI   Field = "redirect_uri"
	FieldAccessToken   Field = "access_token"
)

// CallbackPath is appended to the application base URL for the computed redirect URI.
const CallbackPath = "/auth/line/callback"

const appURLEnv = "APP_URL"

var envKeys = map[Field]string{
	FieldChannelID:     "LINE_LOGIN_CHANNEL_ID",
	FieldChannelSecret: "LINE_LOGIN_CHANNEL_SECRET",
	FieldRedirectURI:   "LINE_LOGIN_REDIRECT_URI",
	FieldAccessToken:   "LINE_CHANNEL_ACCESS_TOKEN",
}

// EnvKey returns the environment variable that overrides field.
func EnvKey(field Field) string {
	return envKeys[field]
}

// Credentials is a fully resolved LINE channel configuration.
// AccessToken is empty when no source provides one.
type Credentials struct {
	ChannelID     string
	ChannelSecret string
	RedirectURI   string
	AccessToken   string
}

// Broadcaster tells other replicas to drop their cached credentials.
type Broadcaster interface {
	Broadcast(ctx context.Context) error
}

type cacheEntry struct {
	row *domain.TenantCredentials
}

// Store resolves LINE credentials with the precedence
// environment > organization default > global default > computed default,
// and caches repository rows per organization until invalidated.
type Store struct {
	repo        repository.CredentialRepository
	broadcaster Broadcaster
	logger      *zap.Logger
	lookupEnv   func(string) (string, bool)

	mu         sync.RWMutex
	cache      map[int64]cacheEntry
	generation uint64
}

// NewStore constructs a credential store. broadcaster may be nil for a single replica.
func NewStore(repo repository.CredentialRepository, broadcaster Broadcaster, logger *zap.Logger) *Store {
	return &Store{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		lookupEnv:   os.LookupEnv,
		cache:       make(map[int64]cacheEntry),
	}
}

func (s *Store) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.L()
}

// Resolve returns the value of field for orgID (0 = global). requestBase is the
// scheme and host of the current request, used for the computed redirect URI.
func (s *Store) Resolve(ctx context.Context, field Field, orgID int64, requestBase string) (string, error) {
	key, ok := envKeys[field]
	if !ok {
		return "", fmt.Errorf("credentials: unknown field %q", field)
	}
	if v := s.env(key); v != "" {
		return v, nil
	}

	if orgID != 0 {
		row, err := s.row(ctx, orgID)
		if err != nil {
			return "", err
		}
		if v := fieldValue(row, field); v != "" {
			return v, nil
		}
	}

	row, err := s.row(ctx, 0)
	if err != nil {
		return "", err
	}
	if v := fieldValue(row, field); v != "" {
		return v, nil
	}

	if field == FieldRedirectURI {
		base := s.env(appURLEnv)
		if base == "" {
			base = requestBase
		}
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			return base + CallbackPath, nil
		}
	}

	return "", fmt.Errorf("%s: %w", field, domain.ErrNotConfigured)
}

// Credentials resolves the full set for orgID. Only the channel id and secret
// are required.
func (s *Store) Credentials(ctx context.Context, orgID int64, requestBase string) (Credentials, error) {
	var creds Credentials
	var err error
	if creds.ChannelID, err = s.Resolve(ctx, FieldChannelID, orgID, requestBase); err != nil {
		return Credentials{}, err
	}
	if creds.ChannelSecret, err = s.Resolve(ctx, FieldChannelSecret, orgID, requestBase); err != nil {
		return Credentials{}, err
	}
	if creds.RedirectURI, err = s.Resolve(ctx, FieldRedirectURI, orgID, requestBase); err != nil {
		return Credentials{}, err
	}
	creds.AccessToken, err = s.Resolve(ctx, FieldAccessToken, orgID, requestBase)
	if err != nil && !isNotConfigured(err) {
		return Credentials{}, err
	}
	return creds, nil
}

// Configured reports whether the global partition yields a channel id and secret.
func (s *Store) Configured(ctx context.Context) (bool, error) {
	for _, f := range []Field{FieldChannelID, FieldChannelSecret} {
		if _, err := s.Resolve(ctx, f, 0, ""); err != nil {
			if isNotConfigured(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// Invalidate drops every cached row. Loads that started before the call do
// not repopulate the cache.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[int64]cacheEntry)
	s.generation++
	s.mu.Unlock()
}

func (s *Store) row(ctx context.Context, orgID int64) (*domain.TenantCredentials, error) {
	s.mu.RLock()
	entry, ok := s.cache[orgID]
	gen := s.generation
	s.mu.RUnlock()
	if ok {
		return entry.row, nil
	}

	row, err := s.repo.GetActiveDefault(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load credentials for org %d: %w", orgID, err)
	}

	s.mu.Lock()
	if s.generation == gen {
		s.cache[orgID] = cacheEntry{row: row}
	}
	s.mu.Unlock()
	return row, nil
}

func (s *Store) env(key string) string {
	if s.lookupEnv == nil {
		return ""
	}
	v, ok := s.lookupEnv(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// List returns the stored rows of an organization (0 = global).
func (s *Store) List(ctx context.Context, orgID int64) ([]domain.TenantCredentials, error) {
	return s.repo.List(ctx, orgID)
}

// Get returns one stored row.
func (s *Store) Get(ctx context.Context, id int64) (domain.TenantCredentials, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new row. A row created as default replaces the previous default.
func (s *Store) Create(ctx context.Context, creds domain.TenantCredentials) (domain.TenantCredentials, error) {
	created, err := s.repo.Create(ctx, creds)
	if err != nil {
		return domain.TenantCredentials{}, err
	}
	s.changed(ctx)
	return created, nil
}

// Update replaces the channel fields of an existing row.
func (s *Store) Update(ctx context.Context, creds domain.TenantCredentials) error {
	if err := s.repo.Update(ctx, creds); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// SetDefault makes id the single default of its organization.
func (s *Store) SetDefault(ctx context.Context, id int64) error {
	if err := s.repo.SetDefault(ctx, id); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// Deactivate disables a row and drops its default flag.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

func (s *Store) changed(ctx context.Context) {
	s.Invalidate()
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx); err != nil {
		s.log().Warn("broadcast credential invalidation failed", zap.Error(err))
	}
}

func fieldValue(row *domain.TenantCredentials, field Field) string {
	if row == nil || !row.IsActive {
		return ""
	}
	switch field {
	case FieldChannelID:
		return row.ChannelID
	case FieldChannelSecret:
		return row.ChannelSecret
	case FieldRedirectURI:
		return row.RedirectURI
	case FieldAccessToken:
		return row.AccessToken
	default:
		return ""
	}
}

func isNotConfigured(err error) bool {
	return errors.Is(err, domain.ErrNotConfigured)
}
