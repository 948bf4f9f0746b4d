package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

// Data is the server-side state of a browser session.
type Data struct {
	UserID    int64            `json:"user_id,omitempty"`
	Handshake *oauth.Handshake `json:"handshake,omitempty"`
}

// Session pairs Data with its opaque cookie id.
type Session struct {
	ID   string
	Data Data

	previousID string
	isNew      bool
}

// Renew assigns a fresh id on the next save and drops the old one.
func (s *Session) Renew() {
	if s.ID != "" && s.previousID == "" {
		s.previousID = s.ID
	}
	s.ID = ""
}

// IsNew reports whether the session was not found in the store.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Manager loads and persists sessions referenced by an HTTP cookie.
type Manager struct {
	store      repository.SessionStore
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewManager constructs a Manager.
func NewManager(store repository.SessionStore, cookieName string, ttl time.Duration, secure bool) *Manager {
	if cookieName == "" {
		cookieName = "line_session"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session referenced by the request cookie, or an empty new session.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return &Session{isNew: true}, nil
	}

	payload, err := m.store.Load(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return &Session{isNew: true}, nil
	}

	var data Data
	if err := json.Unmarshal(payload, &data); err != nil {
		// An unreadable payload is treated as an expired session.
		return &Session{isNew: true}, nil
	}
	return &Session{ID: cookie.Value, Data: data}, nil
}

// Save persists the session and writes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.previousID != "" {
		if err := m.store.Delete(ctx, s.previousID); err != nil {
			return err
		}
		s.previousID = ""
	}
	if s.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		s.ID = id
	}

	payload, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Save(ctx, s.ID, payload, m.ttl); err != nil {
		return err
	}
	s.isNew = false

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy deletes the session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	for _, id := range []string{s.ID, s.previousID} {
		if id == "" {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	}
	s.ID, s.previousID = "", ""
	s.Data = Data{}
	s.isNew = true

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func newID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
