package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidateRoundTrip(t *testing.T) {
	v := NewJWTValidator("secret", WithIssuer("chanswitch"))

	token, err := v.GenerateToken("u1", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Issuer != "chanswitch" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewJWTValidator("secret")

	expired, _ := v.GenerateToken("u1", -time.Minute)
	wrongKey, _ := NewJWTValidator("other").GenerateToken("u1", time.Minute)
	wrongIssuer, _ := NewJWTValidator("secret", WithIssuer("someone")).GenerateToken("u1", time.Minute)
	noUser, _ := v.GenerateToken("", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	strict := NewJWTValidator("secret", WithIssuer("chanswitch"))

	tests := []struct {
		name  string
		v     *JWTValidator
		token string
		want  error
	}{
		{"expired", v, expired, ErrTokenExpired},
		{"wrong key", v, wrongKey, ErrInvalidToken},
		{"wrong issuer", strict, wrongIssuer, ErrInvalidToken},
		{"no user", v, noUser, ErrMissingUser},
		{"alg none", v, none, ErrInvalidToken},
		{"garbage", v, "not.a.token", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.v.Validate(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("Validate error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLeeway(t *testing.T) {
	issuer := NewJWTValidator("secret")
	token, _ := issuer.GenerateToken("u1", -2*time.Second)

	if _, err := NewJWTValidator("secret", WithLeeway(time.Minute)).Validate(token); err != nil {
		t.Fatalf("Validate with leeway: %v", err)
	}
}

func TestAuthenticateDevTokens(t *testing.T) {
	dev := NewJWTValidator("secret", WithDevTokens())

	claims, err := dev.Authenticate("dev_anything", "alice")
	if err != nil || claims.UserID != "alice" {
		t.Fatalf("dev token = %+v, %v", claims, err)
	}
	if _, err := dev.Authenticate("", ""); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("dev token without user = %v", err)
	}

	prod := NewJWTValidator("secret")
	if _, err := prod.Authenticate("dev_anything", "alice"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("dev token accepted without WithDevTokens: %v", err)
	}
}
