package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ALiFe-Chain/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	defaultAccessTTL = 12 * time.Hour
)

// Service 负责操作员接口的身份验证和授权。
type Service struct {
	mode    Mode
	jwt     *jwtManager
	revoked map[string]struct{}
	audit   *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeJWT
	}
	svc := &Service{
		mode:    mode,
		revoked: make(map[string]struct{}, len(cfg.RevokedSubjects)),
		audit:   logger.Audit(),
	}
	for _, subject := range cfg.RevokedSubjects {
		if subject = strings.TrimSpace(subject); subject != "" {
			svc.revoked[subject] = struct{}{}
		}
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		ttl := time.Duration(cfg.JWT.AccessTTL) * time.Second
		if ttl <= 0 {
			ttl = defaultAccessTTL
		}
		svc.jwt = &jwtManager{
			secret:    []byte(cfg.JWT.Secret),
			issuer:    cfg.JWT.Issuer,
			audience:  append([]string(nil), cfg.JWT.Audience...),
			accessTTL: ttl,
			now:       time.Now,
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 为操作员签发访问令牌，供运维命令使用。
func (s *Service) IssueToken(subject *Subject) (string, time.Time, error) {
	if s == nil || s.mode == ModeDisabled || s.jwt == nil {
		return "", time.Time{}, ErrDisabled
	}
	return s.jwt.Generate(subject)
}

// AuthenticateRequest 验证 Authorization 头并返回操作员信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	if s.jwt == nil {
		return nil, errors.New("jwt manager not initialised")
	}
	subject, err := s.jwt.Verify(token)
	if err != nil {
		return nil, err
	}
	if _, revoked := s.revoked[subject.ID]; revoked {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret    []byte
	issuer    string
	audience  []string
	accessTTL time.Duration
	now       func() time.Time
}

// operatorClaims 定义访问令牌的声明结构。
type operatorClaims struct {
	jwt.RegisteredClaims
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
}

// Generate 生成访问令牌。
func (m *jwtManager) Generate(subject *Subject) (string, time.Time, error) {
	if subject == nil || strings.TrimSpace(subject.ID) == "" {
		return "", time.Time{}, errors.New("subject id required")
	}
	now := m.now()
	expires := now.Add(m.accessTTL)
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(append([]string(nil), m.audience...)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username:    subject.Username,
		Roles:       append([]string(nil), subject.Roles...),
		Permissions: append([]string(nil), subject.Permissions...),
		TokenType:   tokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify 校验签名、有效期、签发者与受众。
func (m *jwtManager) Verify(token string) (*Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience[0]))
	}

	var claims operatorClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{
		ID:          claims.Subject,
		Username:    claims.Username,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if subject.Username == "" {
		subject.Username = claims.Subject
	}
	subject.normalise()
	return subject, nil
}
