package auth

import (
	"errors"
	"fmt"
	"time"

	"bankledger/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// 令牌签发与校验。
// 这里不做任何身份认证 —— 上游身份系统确认过的 userID 换取访问令牌，
// 密码与凭证管理不在本服务范围内。

var ErrInvalidToken = errors.New("令牌无效或已过期")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken 为指定用户签发 HS256 令牌
func IssueToken(cfg *config.JWTConfig, userID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.ExpireMinutes) * time.Minute)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发令牌失败: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken 校验令牌并返回 claims
func ParseToken(cfg *config.JWTConfig, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
