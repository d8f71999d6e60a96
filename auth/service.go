package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"oracleflow/errs"
)

var (
	// ErrInvalidCredentials signals a wrong account name or password.
	ErrInvalidCredentials = errs.New(errs.Forbidden, "auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errs.New(errs.Admission, "auth: password must be at least 8 characters")
	ErrInvalidRole  = errs.New(errs.Admission, "auth: invalid role")
	ErrInvalidToken = errs.New(errs.Forbidden, "auth: invalid token")
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and account returned after a successful login.
type LoginResult struct {
	Token   string
	Account Account
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       24 * time.Hour,
		now:       time.Now,
	}
}

// WithTokenTTL sets how long issued tokens stay valid.
func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Register creates a participant or requester account. Privileged roles are
// provisioned from configuration.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleParticipant
	}
	if role != RoleParticipant && role != RoleRequester {
		return nil, fmt.Errorf("%w: %q cannot self-register", ErrInvalidRole, role)
	}
	return s.create(ctx, req.Account, req.Password, role)
}

// Provision creates an account with any role. Existing accounts are left alone.
func (s *Service) Provision(ctx context.Context, name, password string, role Role) error {
	if !isValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.create(ctx, name, password, role); err != nil && !errors.Is(err, ErrDuplicateAccount) {
		return err
	}
	return nil
}

func (s *Service) create(ctx context.Context, name, password string, role Role) (*Account, error) {
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	acct, err := s.repo.CreateAccount(ctx, CreateAccountParams{
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Login authenticates an account and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	acct, err := s.repo.GetByName(ctx, req.Account)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(acct.Name, acct.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, Account: acct}, nil
}

// VerifyToken validates a JWT token and returns the account name and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	account, ok := claims["account"].(string)
	if !ok || account == "" {
		return "", "", fmt.Errorf("%w: missing account", ErrInvalidToken)
	}
	roleStr, _ := claims["role"].(string)
	role := Role(roleStr)
	if !isValidRole(role) {
		return "", "", fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return account, role, nil
}

func (s *Service) generateToken(account string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"account": account,
		"role":    role,
		"exp":     now.Add(s.ttl).Unix(),
		"iat":     now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleParticipant, RoleRequester, RoleOwner, RoleLedger:
		return true
	default:
		return false
	}
}
