package oauth

import "time"

// Intent describes why a handshake was started.
type Intent string

const (
	IntentLogin       Intent = "login"
	IntentLinkAccount Intent = "link_account"
)

// ParseIntent maps request input to an Intent, defaulting to login.
func ParseIntent(raw string) Intent {
	if Intent(raw) == IntentLinkAccount {
		return IntentLinkAccount
	}
	return IntentLogin
}

// Handshake captures the state/nonce pair kept in the caller's session during authorization.
type Handshake struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	OrgID       int64     `json:"organization_id,omitempty"`
	Intent      Intent    `json:"intent"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the handshake is older than ttl.
func (h Handshake) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(h.CreatedAt) > ttl
}

// TokenResponse models the LINE Login token endpoint response.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	IDToken      string
	Scope        string
	Raw          map[string]any
}

// Profile is the LINE Login profile of the authenticated user.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Email         string `json:"email,omitempty"`
}
