package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
	"github.com/losehrt/fhirlinebot-sub000/internal/config"
	"github.com/losehrt/fhirlinebot-sub000/internal/credential"
	domain "github.com/losehrt/fhirlinebot-sub000/internal/domain"
	domainoauth "github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
	"github.com/losehrt/fhirlinebot-sub000/internal/jwt"
	"github.com/losehrt/fhirlinebot-sub000/internal/password"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
	"github.com/losehrt/fhirlinebot-sub000/internal/session"
)

// LoginService drives the LINE Login authorization-code handshake.
type LoginService interface {
	StartLogin(ctx context.Context, sess *session.Data, in StartLoginInput) (*StartLoginOutput, error)
	HandleCallback(ctx context.Context, sess *session.Data, in CallbackInput) (*CallbackResult, error)
	Logout(ctx context.Context, sess *session.Data) error
	RefreshTokens(ctx context.Context, userID int64) (domain.TokenSet, error)
}

// CredentialSource resolves the LINE channel used for a handshake.
type CredentialSource interface {
	Credentials(ctx context.Context, orgID int64, requestBase string) (credential.Credentials, error)
	Resolve(ctx context.Context, field credential.Field, orgID int64, requestBase string) (string, error)
}

// StartLoginInput describes a login or link request.
type StartLoginInput struct {
	OrgID       int64
	Intent      domainoauth.Intent
	RequestBase string
	Scopes      []string
}

// StartLoginOutput carries the LINE authorization URL to redirect to.
type StartLoginOutput struct {
	AuthorizationURL string
	State            string
}

// CallbackInput captures the callback query parameters.
type CallbackInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	RequestBase      string
}

// CallbackResult describes the signed-in account.
type CallbackResult struct {
	User       domain.User
	Membership *domain.Membership
	Intent     domainoauth.Intent
	Created    bool
}

type loginService struct {
	creds       CredentialSource
	client      line.LoginClient
	verifier    *jwt.Verifier
	users       repository.UserRepository
	links       repository.IdentityLinkRepository
	memberships repository.MembershipRepository
	cfg         config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewLoginService wires the login service implementation.
func NewLoginService(
	creds CredentialSource,
	client line.LoginClient,
	verifier *jwt.Verifier,
	users repository.UserRepository,
	links repository.IdentityLinkRepository,
	memberships repository.MembershipRepository,
	cfg config.Config,
	logger *zap.Logger,
) LoginService {
	return &loginService{
		creds:       creds,
		client:      client,
		verifier:    verifier,
		users:       users,
		links:       links,
		memberships: memberships,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/losehrt/fhirlinebot-sub000/internal/service/auth"),
		now:         time.Now,
	}
}

const lineEmailDomain = "line.local"

func (s *loginService) StartLogin(ctx context.Context, sess *session.Data, in StartLoginInput) (*StartLoginOutput, error) {
	ctx, span := s.tracer.Start(ctx, "auth.StartLogin")
	defer span.End()

	intent := in.Intent
	if intent == "" {
		intent = domainoauth.IntentLogin
	}
	span.SetAttributes(attribute.String("line.intent", string(intent)), attribute.Int64("org.id", in.OrgID))

	if intent == domainoauth.IntentLinkAccount {
		if sess.UserID == 0 {
			return nil, domainoauth.ErrLoginRequired
		}
		_, err := s.links.GetByUserID(ctx, domain.ProviderLINE, sess.UserID)
		if err == nil {
			return nil, domainoauth.ErrAlreadyLinked
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup identity link: %w", err)
		}
	}

	creds, err := s.creds.Credentials(ctx, in.OrgID, in.RequestBase)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	authURL, err := url.Parse(s.client.AuthorizeURL())
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}

	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = s.cfg.LineScopes
	}
	if len(scopes) == 0 {
		scopes = []string{"profile", "openid"}
	}

	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", creds.ChannelID)
	params.Set("redirect_uri", creds.RedirectURI)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("nonce", nonce)
	authURL.RawQuery = params.Encode()

	sess.Handshake = &domainoauth.Handshake{
		State:       state,
		Nonce:       nonce,
		OrgID:       in.OrgID,
		Intent:      intent,
		RedirectURI: creds.RedirectURI,
		CreatedAt:   s.now().UTC(),
	}

	return &StartLoginOutput{AuthorizationURL: authURL.String(), State: state}, nil
}

func (s *loginService) HandleCallback(ctx context.Context, sess *session.Data, in CallbackInput) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.HandleCallback")
	defer span.End()

	hs := sess.Handshake
	sess.Handshake = nil

	if hs == nil || in.State == "" || subtle.ConstantTimeCompare([]byte(hs.State), []byte(in.State)) != 1 {
		return nil, domainoauth.ErrCSRF
	}
	if hs.Expired(s.now(), s.cfg.HandshakeTTL) {
		return nil, fmt.Errorf("%w: handshake expired", domainoauth.ErrCSRF)
	}
	if in.Error != "" {
		s.log().Info("line login denied",
			zap.String("error", in.Error),
			zap.String("error_description", in.ErrorDescription),
		)
		return nil, fmt.Errorf("%w: %s", domainoauth.ErrAuthentication, in.Error)
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, domainoauth.ErrMissingCode
	}
	span.SetAttributes(attribute.String("line.intent", string(hs.Intent)), attribute.Int64("org.id", hs.OrgID))

	creds, err := s.creds.Credentials(ctx, hs.OrgID, in.RequestBase)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	redirect := hs.RedirectURI
	if redirect == "" {
		redirect = creds.RedirectURI
	}
	channel := line.Channel{ID: creds.ChannelID, Secret: creds.ChannelSecret}

	token, err := s.client.ExchangeCode(ctx, channel, in.Code, redirect)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("%w: empty access token", domainoauth.ErrAuthentication)
	}

	var idToken *jwt.IDToken
	if token.IDToken != "" {
		idToken, err = s.verifier.Verify(token.IDToken, creds.ChannelID, creds.ChannelSecret, hs.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domainoauth.ErrAuthentication, err)
		}
	}

	profile, err := s.client.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile.UserID == "" {
		return nil, fmt.Errorf("%w: profile without user id", domainoauth.ErrAuthentication)
	}
	if idToken != nil && idToken.Subject != "" && idToken.Subject != profile.UserID {
		return nil, fmt.Errorf("%w: id token subject mismatch", domainoauth.ErrAuthentication)
	}

	now := s.now().UTC()
	tokens := domain.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		OrgID:        hs.OrgID,
	}
	if token.ExpiresIn > 0 {
		tokens.ExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	user, created, err := s.reconcile(ctx, hs.Intent, sess.UserID, profile, tokens)
	if err != nil {
		return nil, err
	}

	result := &CallbackResult{User: user, Intent: hs.Intent, Created: created}
	if hs.OrgID != 0 {
		membership, err := s.memberships.Join(ctx, hs.OrgID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("join organization: %w", err)
		}
		result.Membership = &membership
	}

	sess.UserID = user.ID
	s.log().Info("line login succeeded",
		zap.Int64("user_id", user.ID),
		zap.String("intent", string(hs.Intent)),
		zap.Bool("created", created),
	)
	return result, nil
}

// reconcile finds or creates the local account for a LINE profile and makes
// sure the identity link exists.
func (s *loginService) reconcile(ctx context.Context, intent domainoauth.Intent, sessionUserID int64, profile *domainoauth.Profile, tokens domain.TokenSet) (domain.User, bool, error) {
	link, err := s.links.GetByExternalID(ctx, domain.ProviderLINE, profile.UserID)
	switch {
	case err == nil:
		if intent == domainoauth.IntentLinkAccount && link.UserID != sessionUserID {
			return domain.User{}, false, domainoauth.ErrAlreadyLinked
		}
		user, err := s.users.GetByID(ctx, link.UserID)
		if err != nil {
			return domain.User{}, false, fmt.Errorf("load linked user: %w", err)
		}
		if err := s.users.UpdateProfile(ctx, user.ID, profile.DisplayName, profile.PictureURL, profile.StatusMessage); err != nil {
			return domain.User{}, false, fmt.Errorf("update profile: %w", err)
		}
		if err := s.users.UpdateTokens(ctx, user.ID, tokens); err != nil {
			return domain.User{}, false, fmt.Errorf("update tokens: %w", err)
		}
		if err := s.links.Touch(ctx, link.ID, s.now().UTC()); err != nil {
			return domain.User{}, false, fmt.Errorf("touch identity link: %w", err)
		}
		user.Name, user.AvatarURL, user.StatusMessage = profile.DisplayName, profile.PictureURL, profile.StatusMessage
		user.Tokens = tokens
		return user, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.User{}, false, fmt.Errorf("lookup identity link: %w", err)
	}

	var (
		user    domain.User
		created bool
	)
	if intent == domainoauth.IntentLinkAccount {
		if sessionUserID == 0 {
			return domain.User{}, false, domainoauth.ErrLoginRequired
		}
		user, err = s.users.GetByID(ctx, sessionUserID)
		if err != nil {
			return domain.User{}, false, fmt.Errorf("load session user: %w", err)
		}
	} else {
		user, created, err = s.findOrCreateUser(ctx, profile, tokens)
		if err != nil {
			return domain.User{}, false, err
		}
	}

	if !created {
		if err := s.users.UpdateTokens(ctx, user.ID, tokens); err != nil {
			return domain.User{}, false, fmt.Errorf("update tokens: %w", err)
		}
		user.Tokens = tokens
	}

	_, err = s.links.Create(ctx, domain.IdentityLink{
		UserID:     user.ID,
		Provider:   domain.ProviderLINE,
		ExternalID: profile.UserID,
		LastLogin:  s.now().UTC(),
	})
	if err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return domain.User{}, false, fmt.Errorf("create identity link: %w", err)
		}
		// A concurrent callback may have linked the same identity first.
		existing, lookupErr := s.links.GetByExternalID(ctx, domain.ProviderLINE, profile.UserID)
		if lookupErr != nil || existing.UserID != user.ID {
			return domain.User{}, false, domainoauth.ErrAlreadyLinked
		}
	}
	return user, created, nil
}

func (s *loginService) findOrCreateUser(ctx context.Context, profile *domainoauth.Profile, tokens domain.TokenSet) (domain.User, bool, error) {
	email := syntheticEmail(profile.UserID)
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, fmt.Errorf("get user: %w", err)
	}

	hash, err := password.RandomHash()
	if err != nil {
		return domain.User{}, false, err
	}
	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name = profile.UserID
	}
	created, err := s.users.Create(ctx, domain.User{
		Email:         email,
		PasswordHash:  hash,
		Name:          name,
		AvatarURL:     profile.PictureURL,
		StatusMessage: profile.StatusMessage,
		Status:        "active",
		Tokens:        tokens,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			existing, lookupErr := s.users.GetByEmail(ctx, email)
			if lookupErr != nil {
				return domain.User{}, false, fmt.Errorf("reload user: %w", lookupErr)
			}
			return existing, false, nil
		}
		return domain.User{}, false, fmt.Errorf("create user: %w", err)
	}
	return created, true, nil
}

func (s *loginService) Logout(ctx context.Context, sess *session.Data) error {
	userID := sess.UserID
	sess.UserID = 0
	sess.Handshake = nil
	if userID == 0 {
		return nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	if user.Tokens.AccessToken != "" {
		if channel, err := s.channel(ctx, user.Tokens.OrgID); err != nil {
			s.log().Warn("skip token revoke", zap.Error(err))
		} else if err := s.client.RevokeToken(ctx, channel, user.Tokens.AccessToken); err != nil {
			s.log().Warn("line token revoke failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	if err := s.users.UpdateTokens(ctx, userID, user.Tokens.Invalidated(s.now().UTC())); err != nil {
		return fmt.Errorf("invalidate tokens: %w", err)
	}
	return nil
}

func (s *loginService) RefreshTokens(ctx context.Context, userID int64) (domain.TokenSet, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("load user: %w", err)
	}
	if user.Tokens.RefreshToken == "" {
		return domain.TokenSet{}, fmt.Errorf("%w: no refresh token", domainoauth.ErrAuthentication)
	}

	channel, err := s.channel(ctx, user.Tokens.OrgID)
	if err != nil {
		return domain.TokenSet{}, err
	}
	resp, err := s.client.RefreshToken(ctx, channel, user.Tokens.RefreshToken)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("refresh token: %w", err)
	}

	tokens := domain.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
		OrgID:        user.Tokens.OrgID,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = user.Tokens.RefreshToken
	}
	if tokens.Scope == "" {
		tokens.Scope = user.Tokens.Scope
	}
	if resp.ExpiresIn > 0 {
		tokens.ExpiresAt = s.now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if err := s.users.UpdateTokens(ctx, userID, tokens); err != nil {
		return domain.TokenSet{}, fmt.Errorf("update tokens: %w", err)
	}
	return tokens, nil
}

func (s *loginService) channel(ctx context.Context, orgID int64) (line.Channel, error) {
	id, err := s.creds.Resolve(ctx, credential.FieldChannelID, orgID, "")
	if err != nil {
		return line.Channel{}, err
	}
	secret, err := s.creds.Resolve(ctx, credential.FieldChannelSecret, orgID, "")
	if err != nil {
		return line.Channel{}, err
	}
	return line.Channel{ID: id, Secret: secret}, nil
}

func (s *loginService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func syntheticEmail(lineUserID string) string {
	return strings.ToLower(lineUserID) + "@" + lineEmailDomain
}

func secureRandomString(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
