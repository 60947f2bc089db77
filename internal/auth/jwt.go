package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"soilify/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the identity provider.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens and resolves the caller's role from the
// configured admin email list.
type Verifier struct {
	secret []byte
	admins map[string]struct{}
	now    func() time.Time
}

func NewVerifier(secret string, adminEmails []string) *Verifier {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Verifier{secret: []byte(secret), admins: admins, now: time.Now}
}

// Verify parses a token and returns the identity it carries.
func (v *Verifier) Verify(token string) (*models.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &models.Identity{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Phone:   claims.Phone,
		Address: claims.Address,
		Role:    v.RoleFor(claims.Email),
	}, nil
}

// RoleFor maps an email address to a role.
func (v *Verifier) RoleFor(email string) string {
	if _, ok := v.admins[strings.ToLower(strings.TrimSpace(email))]; ok && email != "" {
		return models.RoleAdmin
	}
	return models.RoleCustomer
}

// Issue signs a token for the identity. Used by tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(id *models.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Email:   id.Email,
		Name:    id.Name,
		Phone:   id.Phone,
		Address: id.Address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(v.secret)
}
