package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the access/refresh token pair for the current session. It is
// owned exclusively by the Manager; renewal replaces the whole pair
// atomically, never one half.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// tokenResponse is the wire shape returned by the login and refresh
// endpoints (RFC 6749 token response).
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// credentialFrom builds a Credential, deriving the expiry from expires_in and
// refining it from the JWT exp claim when the access token parses as a JWT.
// The token is otherwise opaque to the client; no signature verification
// happens here.
func credentialFrom(tr tokenResponse, now time.Time) Credential {
	cred := Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			cred.ExpiresAt = exp.Time
		}
	}
	return cred
}
