package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/repository"
	"github.com/basalt/basalt/internal/tier"
)

// VerificationTokenTTL bounds how long an email confirmation link is valid.
const VerificationTokenTTL = 24 * time.Hour

// UserStore is the persistence needed for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	MarkUserVerified(ctx context.Context, id int64) error
}

// SignupInput is the signup form.
type SignupInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=256"`
	Name     string `validate:"required,max=200"`
	Company  string `validate:"max=200"`
}

// AccountService handles signup, login and session resolution.
type AccountService struct {
	users    UserStore
	tokens   *auth.TokenIssuer
	tracker  *quota.Tracker
	catalog  *tier.Catalog
	mailer   Mailer
	baseURL  string
	logger   *slog.Logger
	metrics  metrics.Recorder
	validate *validator.Validate
	now      func() time.Time

	mailWG sync.WaitGroup
}

// AccountConfig wires an AccountService.
type AccountConfig struct {
	Users   UserStore
	Tokens  *auth.TokenIssuer
	Tracker *quota.Tracker
	Catalog *tier.Catalog
	Mailer  Mailer
	BaseURL string
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// NewAccountService creates a new AccountService.
func NewAccountService(cfg AccountConfig) *AccountService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = tier.DefaultCatalog()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = NewLogMailer(cfg.Logger)
	}
	return &AccountService{
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		tracker:  cfg.Tracker,
		catalog:  cfg.Catalog,
		mailer:   cfg.Mailer,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   cfg.Logger.With("component", "account"),
		metrics:  cfg.Metrics,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Signup creates a free-tier account and returns it with a session token.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*model.User, string, error) {
	in.Email = model.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)

	if err := s.validateSignup(in); err != nil {
		s.metrics.IncSignup(metrics.ResultInvalid)
		return nil, "", err
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		s.metrics.IncSignup("duplicate")
		return nil, "", ErrEmailExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, "", fmt.Errorf("check existing account: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, "", err
	}

	free := s.catalog.Lookup(tier.Free)
	user := &model.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Company:      in.Company,
		Tier:         free.Name,
		MonthlyLimit: free.MonthlyLimit,
		ResetDate:    s.tracker.InitialResetDate(),
		IsActive:     true,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.IncSignup("duplicate")
			return nil, "", ErrEmailExists
		}
		return nil, "", fmt.Errorf("create account: %w", err)
	}

	token, err := s.IssueSession(user)
	if err != nil {
		return nil, "", err
	}

	s.metrics.IncSignup(metrics.ResultSuccess)
	s.logger.Info("account created", "user_id", user.ID)
	s.sendVerificationAsync(user)

	return user, token, nil
}

func (s *AccountService) validateSignup(in SignupInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for _, fe := range verrs {
		if fe.Field() == "Password" && fe.Tag() == "min" {
			return ErrPasswordTooShort
		}
	}
	fe := verrs[0]
	return fmt.Errorf("%w: %s failed %q", ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
}

// Login checks credentials and returns the user with a fresh session token.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = model.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			auth.BurnVerification(password)
			s.metrics.IncLogin(metrics.ResultInvalid)
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("load account: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		// A digest we cannot read is logged but reported like a bad password.
		s.logger.Error("unreadable password digest", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.ResultInvalid)
		return nil, "", ErrInvalidCredentials
	}

	if !user.IsActive {
		s.metrics.IncLogin("disabled")
		return nil, "", ErrAccountDisabled
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	token, err := s.IssueSession(user)
	if err != nil {
		return nil, "", err
	}

	s.metrics.IncLogin(metrics.ResultSuccess)
	return user, token, nil
}

// IssueSession mints a session token for user.
func (s *AccountService) IssueSession(user *model.User) (string, error) {
	token, err := s.tokens.Issue(map[string]any{
		auth.ClaimUserID: user.ID,
		"email":          user.Email,
	})
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

// SessionTTL is the lifetime of issued session tokens.
func (s *AccountService) SessionTTL() time.Duration {
	return s.tokens.DefaultTTL()
}

// ResolveSession maps a session token to an active user. Every routine
// failure (bad token, missing claim, unknown or disabled user) returns nil
// with no error; only store faults are returned.
func (s *AccountService) ResolveSession(ctx context.Context, token string) (*model.User, error) {
	claims, ok := s.tokens.Verify(token)
	if !ok {
		return nil, nil
	}
	// Purpose-scoped tokens (email verification) are not sessions.
	if _, scoped := claims[auth.ClaimPurpose]; scoped {
		return nil, nil
	}
	userID, ok := auth.ClaimInt64(claims, auth.ClaimUserID)
	if !ok {
		return nil, nil
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// Usage reports the user's quota state, applying any due period reset first.
func (s *AccountService) Usage(ctx context.Context, user *model.User) (model.UsageResponse, error) {
	if _, err := s.tracker.Remaining(ctx, user); err != nil {
		return model.UsageResponse{}, err
	}
	return model.UsageResponse{
		Tier:         user.Tier,
		MonthlyLimit: user.MonthlyLimit,
		Used:         user.NotarizationsThisMonth,
		Remaining:    user.QuotaRemaining(),
		ResetDate:    user.ResetDate,
		APIAccess:    s.catalog.Lookup(user.Tier).APIAccess,
	}, nil
}

// Tier returns the catalog entry for the user's plan.
func (s *AccountService) Tier(user *model.User) tier.Tier {
	return s.catalog.Lookup(user.Tier)
}

// Catalog returns the pricing catalog.
func (s *AccountService) Catalog() *tier.Catalog {
	return s.catalog
}

// VerificationToken issues a short-lived email confirmation token.
func (s *AccountService) VerificationToken(user *model.User) (string, error) {
	return s.tokens.Issue(map[string]any{
		auth.ClaimUserID:  user.ID,
		auth.ClaimPurpose: auth.PurposeVerifyEmail,
	}, VerificationTokenTTL)
}

// VerifyEmail confirms the address encoded in a verification token.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	claims, ok := s.tokens.Verify(token)
	if !ok || claims[auth.ClaimPurpose] != auth.PurposeVerifyEmail {
		return nil, ErrInvalidToken
	}
	userID, ok := auth.ClaimInt64(claims, auth.ClaimUserID)
	if !ok {
		return nil, ErrInvalidToken
	}

	if err := s.users.MarkUserVerified(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("verify email: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load verified account: %w", err)
	}
	return user, nil
}

func (s *AccountService) sendVerificationAsync(user *model.User) {
	token, err := s.VerificationToken(user)
	if err != nil {
		s.logger.Error("failed to issue verification token", "user_id", user.ID, "error", err)
		return
	}

	link := s.baseURL + "/verify-email?token=" + url.QueryEscape(token)
	msg := Message{
		ToName:  user.Name,
		ToEmail: user.Email,
		Subject: "Confirm your Basalt account",
		Text: fmt.Sprintf("Hi %s,\n\nConfirm your email address to finish setting up Basalt:\n%s\n\nThe link expires in 24 hours.\n",
			user.Name, link),
	}

	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger.Warn("verification email failed", "user_id", user.ID, "error", err)
		}
	}()
}

// Shutdown waits for in-flight emails.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (s *AccountService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mailWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
