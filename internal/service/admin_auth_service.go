package service

import (
	"time"

	"github.com/Wei-Shaw/ds2api/internal/config"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthService 管理端登录认证：bcrypt 口令 + 可选 TOTP 二步验证，签发短期 JWT
type AdminAuthService struct {
	username       string
	passwordBcrypt string
	jwtSecret      []byte
	tokenTTL       time.Duration
	totpSecret     string
	now            func() time.Time
}

func NewAdminAuthService(cfg *config.Config) *AdminAuthService {
	return &AdminAuthService{
		username:       cfg.Admin.Username,
		passwordBcrypt: cfg.Admin.PasswordBcrypt,
		jwtSecret:      []byte(cfg.Admin.JWTSecret),
		tokenTTL:       time.Duration(cfg.Admin.TokenTTLMinutes) * time.Minute,
		totpSecret:     cfg.Admin.TotpSecret,
		now:            time.Now,
	}
}

// Login 校验凭据并签发 JWT。TOTP 仅在配置了密钥时要求。
func (s *AdminAuthService) Login(username, password, totpCode string) (string, time.Time, error) {
	if username != s.username {
		return "", time.Time{}, dserror.New(dserror.KindUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordBcrypt), []byte(password)); err != nil {
		logger.L().Warn("admin login rejected",
			zap.String("component", "admin_auth"),
			zap.String("username", username))
		return "", time.Time{}, dserror.New(dserror.KindUnauthorized, "invalid credentials")
	}
	if s.totpSecret != "" && !totp.Validate(totpCode, s.totpSecret) {
		return "", time.Time{}, dserror.New(dserror.KindUnauthorized, "invalid totp code")
	}

	expiresAt := s.now().Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "ds2api",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, dserror.Wrap(dserror.KindInternal, err, "sign admin token")
	}
	return token, expiresAt, nil
}

// VerifyToken 校验 JWT 并返回管理员用户名
func (s *AdminAuthService) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, dserror.New(dserror.KindUnauthorized, "unexpected signing method")
			}
			return s.jwtSecret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", dserror.Wrap(dserror.KindUnauthorized, err, "invalid admin token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", dserror.New(dserror.KindUnauthorized, "invalid admin token claims")
	}
	return claims.Subject, nil
}
