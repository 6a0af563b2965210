package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned when authentication fails.
var ErrUnauthenticated = errors.New("unauthenticated")

const tokenIssuer = "tally"

// TokenSigner issues and verifies the API's bearer tokens. Tokens are signed
// with HMAC-SHA256 using a shared secret; credential issuance (how a user
// proves who they are in the first place) is outside this package.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner creates a token signer. The secret must be at least 32 bytes.
func NewTokenSigner(secret []byte, ttl time.Duration) (*TokenSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("token signing secret must be at least 32 bytes")
	}
	return &TokenSigner{secret: secret, ttl: ttl}, nil
}

// Sign issues a token for the identity. The org claim records the
// session-selected organization; switching organizations issues a new token.
func (s *TokenSigner) Sign(ident *Identity) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":   tokenIssuer,
		"sub":   ident.UserID.String(),
		"email": ident.Email,
		"org":   ident.OrgID.String(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	if ident.SuperAdmin {
		claims["superadmin"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies a token, returning the identity it carries.
func (s *TokenSigner) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	userID, err := parseUUIDClaim(claims, "sub")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	orgID, err := parseUUIDClaim(claims, "org")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	email, _ := claims["email"].(string)
	superAdmin, _ := claims["superadmin"].(bool)

	return &Identity{
		UserID:     userID,
		Email:      email,
		OrgID:      orgID,
		SuperAdmin: superAdmin,
	}, nil
}

// Middleware returns an HTTP middleware that authenticates requests with a
// bearer token and adds the identity to the request context.
func (s *TokenSigner) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearerToken(r)
			if tokenString == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ident, err := s.Verify(tokenString)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to verify token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken extracts the token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return parts[1]
}

// parseUUIDClaim extracts a UUID from token claims.
func parseUUIDClaim(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	value, ok := claims[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing or invalid %s claim", key)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s UUID: %w", key, err)
	}

	return id, nil
}
