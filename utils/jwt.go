package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"outreach/config"
)

// Claims identify the operator and the browser session a selection belongs to
type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Session falls back to the subject for tokens issued without a session id
func (c *Claims) Session() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.Subject
}

func GenerateJWTToken(subject, sessionID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.EncryptionKey))
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.Session() == "" {
			return nil, errors.New("token carries no session")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
