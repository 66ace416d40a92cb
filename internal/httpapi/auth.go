package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pasal/backend/internal/cache"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	// ErrRevocationCheck means the deny-list could not be consulted.
	ErrRevocationCheck = errors.New("check token revocation")
)

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	denylist   cache.TokenDenylist
	users      map[string]credential
	log        *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	id       string
	name     string
	password string
	role     string
	active   bool
	created  time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Name         string `json:"name,omitempty"`
	Role         string `json:"role"`
	CompanyID    string `json:"companyId,omitempty"`
	FiscalYearID string `json:"fiscalYearId,omitempty"`
}

// Claims is what a verified token says about its bearer.
type Claims struct {
	User         domain.User
	CompanyID    string
	FiscalYearID string
	TokenID      string
	ExpiresAt    time.Time
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore, denylist cache.TokenDenylist, log *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	hashedPIN, err := hashPassword(managerPIN)
	if err == nil {
		managerPIN = hashedPIN
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		userStore:  userStore,
		denylist:   denylist,
		users:      make(map[string]credential),
		log:        log.Named("auth"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

// Authenticate checks a username and password and returns the user.
func (a *AuthManager) Authenticate(ctx context.Context, req domain.LoginRequest) (domain.User, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.User{}, ErrInactiveAccount
	}
	return domain.User{ID: cred.id, Username: username, Name: cred.name, Role: cred.role}, nil
}

// Issue signs a token carrying session's user, company and fiscal year,
// and stamps the token id and expiry onto the returned copy.
func (a *AuthManager) Issue(session domain.Session) (string, domain.Session, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   session.User.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "pasal",
		},
		Name: session.User.Name,
		Role: session.User.Role,
	}
	if session.Company != nil {
		claims.CompanyID = session.Company.ID
	}
	if session.FiscalYear != nil {
		claims.FiscalYearID = session.FiscalYear.ID
	}

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", domain.Session{}, err
	}
	session.TokenID = claims.ID
	session.ExpiresAt = expiresAt
	return token, session, nil
}

func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (Claims, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, errors.New("invalid token subject")
	}

	if a.denylist != nil && claims.ID != "" {
		revoked, err := a.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: %w", ErrRevocationCheck, err)
		}
		if revoked {
			return Claims{}, ErrInvalidToken
		}
	}

	parsed := Claims{
		User:         domain.User{Username: sub, Name: claims.Name, Role: claims.Role},
		CompanyID:    claims.CompanyID,
		FiscalYearID: claims.FiscalYearID,
		TokenID:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	a.mu.RLock()
	if cred, ok := a.users[sub]; ok {
		parsed.User.ID = cred.id
	}
	a.mu.RUnlock()
	return parsed, nil
}

// Revoke deny-lists a token until it would have expired anyway.
func (a *AuthManager) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if a.denylist == nil || tokenID == "" {
		return nil
	}
	return a.denylist.Revoke(ctx, tokenID, expiresAt)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

// CreateUser adds an operator account. Only the user and supervisor roles
// can be created this way.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.User{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.User{}, fmt.Errorf("password must be at least 6 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleSupervisor {
		return domain.User{}, fmt.Errorf("role must be %q or %q", domain.RoleUser, domain.RoleSupervisor)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.User{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}
	account := domain.UserAccount{
		ID:        xid.New("usr"),
		Username:  username,
		Name:      strings.TrimSpace(req.Name),
		Password:  passwordHash,
		Role:      role,
		Active:    true,
		CreatedAt: now,
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.User{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		id:       account.ID,
		name:     account.Name,
		password: passwordHash,
		role:     role,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	a.log.Info("user created", zap.String("username", username), zap.String("role", role))
	return domain.User{ID: account.ID, Username: username, Name: account.Name, Role: role}, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.User {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.User, 0, len(a.users))
	for username, cred := range a.users {
		result = append(result, domain.User{ID: cred.id, Username: username, Name: cred.name, Role: cred.role})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. Plain-text passwords found in the store are upgraded to
// bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn("load users failed", zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.log.Warn("upgrade password hash failed", zap.String("username", username), zap.Error(err))
				}
			}
		}
		a.users[username] = credential{
			id:       user.ID,
			name:     user.Name,
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
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
