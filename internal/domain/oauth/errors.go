package oauth

import "errors"

var (
	// ErrCSRF indicates the callback state does not match the session handshake.
	ErrCSRF = errors.New("oauth: state mismatch")
	// ErrMissingCode indicates a callback without an authorization code.
	ErrMissingCode = errors.New("oauth: missing authorization code")
	// ErrAuthentication indicates LINE rejected the code, token or profile request.
	ErrAuthentication = errors.New("oauth: authentication failed")
	// ErrNetwork indicates LINE was unreachable, answered with a 5xx or sent an unreadable body.
	ErrNetwork = errors.New("oauth: upstream unavailable")
	// ErrAlreadyLinked indicates the account or LINE identity is already linked.
	ErrAlreadyLinked = errors.New("oauth: identity already linked")
	// ErrLoginRequired indicates linking was requested without a signed-in account.
	ErrLoginRequired = errors.New("oauth: login required")
)
