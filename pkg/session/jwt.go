package session

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Claims 实时连接令牌声明
type Claims struct {
	Username string `json:"username,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver 从 Authorization: Bearer 或查询参数 token 中解析身份
// 供无法携带 Cookie 的客户端（移动端、服务端脚本）使用
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver 创建 JWT 解析器
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Issue 签发令牌
func (j *JWTResolver) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: id.Username,
		Admin:    id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Resolve 实现 Resolver
func (j *JWTResolver) Resolve(r *http.Request) (*Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, errors.ErrNoSession
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.ErrNoSession.WithError(err)
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return nil, errors.ErrNoSession.WithMessage("invalid subject")
	}
	return &Identity{UserID: uid, Username: claims.Username, IsAdmin: claims.Admin}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
