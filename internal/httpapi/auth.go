package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/service"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const minPasswordLength = 8

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	users      UserStore
	logger     *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error
}

type erpClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore, logger *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	if hashed, err := hashPassword(managerPIN); err == nil {
		managerPIN = hashed
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		users:      users,
		logger:     logger.Named("auth"),
	}
}

// Bootstrap prepares the user store at startup: stored plain-text passwords
// are upgraded to bcrypt hashes, and when the store has no users at all an
// admin account is created from the given credentials.
func (a *AuthManager) Bootstrap(ctx context.Context, adminEmail string, adminPassword string) error {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, user := range users {
		if isPasswordHash(user.Password) {
			continue
		}
		hashed, err := hashPassword(user.Password)
		if err != nil {
			return err
		}
		if err := a.users.UpdateUserPassword(ctx, user.Email, hashed); err != nil {
			return fmt.Errorf("upgrade password of %s: %w", user.Email, err)
		}
		a.logger.Info("upgraded stored password to bcrypt", zap.String("email", user.Email))
	}

	if len(users) > 0 {
		return nil
	}
	adminEmail = strings.ToLower(strings.TrimSpace(adminEmail))
	if adminEmail == "" || adminPassword == "" {
		a.logger.Warn("user store is empty and ADMIN_EMAIL/ADMIN_PASSWORD are not set; nobody can log in")
		return nil
	}
	if _, err := a.createUser(ctx, domain.UserCreateRequest{
		Name:     "Administrator",
		Email:    adminEmail,
		Password: adminPassword,
		Role:     domain.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	a.logger.Info("bootstrap admin created", zap.String("email", adminEmail))
	return nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        *user,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &erpClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("erplite"))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: sub, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := erpClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "erplite",
		},
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

// Register creates a self-service account, which always gets the user role.
func (a *AuthManager) Register(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	req.Role = domain.RoleUser
	return a.createUser(ctx, req)
}

// CreateUser creates an account with any role. Callers must be admins.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	actor, ok := service.ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.UserAccount{}, service.ErrForbidden
	}
	if strings.TrimSpace(req.Role) == "" {
		req.Role = domain.RoleUser
	}
	return a.createUser(ctx, req)
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	return a.users.ListUsers(ctx)
}

func (a *AuthManager) createUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))

	violations := service.Violations{}
	if req.Email == "" {
		violations["email"] = "required"
	} else if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		violations["email"] = "invalid_format"
	}
	if len(req.Password) < minPasswordLength {
		violations["password"] = "too_short"
	}
	if len(req.Name) > 100 {
		violations["name"] = "too_long"
	}
	if !slices.Contains([]string{domain.RoleAdmin, domain.RoleManager, domain.RoleUser}, req.Role) {
		violations["role"] = "unsupported_value"
	}
	if len(violations) > 0 {
		return domain.UserAccount{}, &service.ValidationError{Violations: violations}
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		ID:        xid.New("usr"),
		Name:      req.Name,
		Email:     req.Email,
		Password:  passwordHash,
		Role:      req.Role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}
	a.logger.Info("audit",
		zap.String("action", "user_create"),
		zap.String("entity_type", "user"),
		zap.String("entity_id", user.ID),
		zap.String("role", user.Role),
	)
	return user, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
