// Package auth 提供帧协议 Auth 消息的令牌校验
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingUser  = errors.New("token has no user id")
)

// devTokenPrefix 开发环境令牌前缀
const devTokenPrefix = "dev_"

// Claims JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// Option 校验器选项
type Option func(*JWTValidator)

// WithIssuer 要求令牌的 iss 与之匹配
func WithIssuer(iss string) Option {
	return func(v *JWTValidator) {
		v.issuer = iss
	}
}

// WithLeeway 允许的时钟偏差
func WithLeeway(d time.Duration) Option {
	return func(v *JWTValidator) {
		v.leeway = d
	}
}

// WithDevTokens 允许空令牌或 dev_ 前缀令牌（仅开发环境）
func WithDevTokens() Option {
	return func(v *JWTValidator) {
		v.allowDev = true
	}
}

// JWTValidator JWT 验证器
type JWTValidator struct {
	secretKey []byte
	issuer    string
	leeway    time.Duration
	allowDev  bool
}

// NewJWTValidator 创建 JWT 验证器
func NewJWTValidator(secretKey string, opts ...Option) *JWTValidator {
	v := &JWTValidator{
		secretKey: []byte(secretKey),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate 验证 JWT token
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}

// Authenticate 校验 Auth 消息中的令牌
//
// 开启 WithDevTokens 时，空令牌或 dev_ 前缀令牌直接信任 devUserID。
func (v *JWTValidator) Authenticate(tokenString, devUserID string) (*Claims, error) {
	if v.allowDev && (tokenString == "" || strings.HasPrefix(tokenString, devTokenPrefix)) {
		if devUserID == "" {
			return nil, ErrMissingUser
		}
		return &Claims{UserID: devUserID}, nil
	}
	return v.Validate(tokenString)
}

// GenerateToken 生成 JWT token（用于测试与客户端工具）
func (v *JWTValidator) GenerateToken(userID string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
