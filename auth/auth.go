// Package auth provides the authenticated identity of the messaging client.
// The token itself is issued elsewhere; here it is only carried and, for the
// current user id, decoded.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the identity every component uses to tell own actions from
// remote ones and to authenticate the connection handshake and REST calls.
type Session interface {
	// UserID returns the current user id.
	UserID() string
	// Token returns the bearer credential.
	Token() string
}

type tokenSession struct {
	uid   string
	token string
}

func (s *tokenSession) UserID() string { return s.uid }
func (s *tokenSession) Token() string  { return s.token }

// FromToken builds a Session from a bearer token by reading the subject
// claim. The signature is not verified here: the server rejects forged
// tokens, the client only needs the embedded identity.
func FromToken(token string) (Session, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	uid, _ := claims["sub"].(string)
	if uid == "" {
		uid, _ = claims["userId"].(string)
	}
	if uid == "" {
		return nil, fmt.Errorf("token carries no user id claim")
	}

	return &tokenSession{uid: uid, token: token}, nil
}
