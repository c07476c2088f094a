package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookiePrefix = "pairbox_"

var errBadSession = errors.New("invalid game session")

// sessionClaims ties a browser to the one game it created. Only the holder
// of a valid token can flip tiles; everyone else may only watch.
type sessionClaims struct {
	Game string `json:"game"`
	jwt.RegisteredClaims
}

func sessionCookieName(gameID string) string {
	return sessionCookiePrefix + gameID
}

func sessionTTL(cfg *Config) time.Duration {
	if cfg.sessionTimeout > 0 {
		return cfg.sessionTimeout
	}
	return 24 * time.Hour
}

func signSession(secret []byte, gameID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Game: gameID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	ss, err := token.SignedString(secret)
	return ss, exp, err
}

func verifySession(secret []byte, gameID, raw string) error {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return errors.Join(errBadSession, err)
	}
	if !token.Valid || claims.Game != gameID {
		return errBadSession
	}

	return nil
}

// issueSession sets the owner cookie for gameID, scoped to the game's path.
func issueSession(cfg *Config, w http.ResponseWriter, secret []byte, path, gameID string) error {
	token, exp, err := signSession(secret, gameID, sessionTTL(cfg))
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName(gameID),
		Value:    token,
		Path:     cfg.prefix + path + "/" + gameID,
		Expires:  exp,
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// isOwner reports whether r carries a valid session for gameID.
func isOwner(r *http.Request, secret []byte, gameID string) bool {
	c, err := r.Cookie(sessionCookieName(gameID))
	if err != nil || c.Value == "" {
		return false
	}
	return verifySession(secret, gameID, c.Value) == nil
}
