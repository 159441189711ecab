package auth

import (
	"chat-connect/domain/chat"
	"chat-connect/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "chat-connect"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	ParticipantID string   `json:"participant_id"`
	Roles         []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenResolver turns a bearer credential into a participant id.
// Tokens are issued elsewhere; GenerateToken exists for tooling and tests.
type TokenResolver struct {
	secret []byte
	issuer string
}

func NewTokenResolver(secret, issuer string) TokenResolver {
	if issuer == "" {
		issuer = defaultIssuer
	}
	return TokenResolver{secret: []byte(secret), issuer: issuer}
}

// GenerateToken creates a signed JWT for a specific participant.
func (r TokenResolver) GenerateToken(participantID chat.ParticipantID, roles []string,
	duration time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		ParticipantID: string(participantID),
		Roles:         roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(participantID),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    r.issuer,
		},
	}

	// HS256 (HMAC with SHA256).
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// ValidateToken parses and validates the signature, issuer and expiration of a JWT string.
func (r TokenResolver) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// ResolveParticipant accepts a raw token or a "Bearer <token>" header value.
func (r TokenResolver) ResolveParticipant(_ context.Context, credential string) (chat.ParticipantID, error) {
	tokenStr := BearerToken(credential)
	if tokenStr == "" {
		return "", fmt.Errorf("%w: missing credential", errors.ErrUnauthenticated)
	}
	claims, err := r.ValidateToken(tokenStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	if claims.ParticipantID == "" {
		return "", fmt.Errorf("%w: token carries no participant", errors.ErrUnauthenticated)
	}
	return chat.ParticipantID(claims.ParticipantID), nil
}

// BearerToken strips an optional "Bearer " scheme.
func BearerToken(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) > 7 && strings.EqualFold(credential[:7], "bearer ") {
		return strings.TrimSpace(credential[7:])
	}
	return credential
}
