package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/repository"
	"github.com/basalt/basalt/internal/service"
	"github.com/basalt/basalt/internal/tier"
)

type output struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
	KeyID  int64  `json:"key_id"`
	Key    string `json:"key"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "", "Account email (required)")
		password    = flag.String("password", "", "Create the account with this password if it does not exist")
		planName    = flag.String("tier", tier.Pro, "Plan to move the account to")
		tiersFile   = flag.String("tiers-file", os.Getenv("TIERS_FILE"), "Optional YAML tier catalog")
		name        = flag.String("name", "bootstrap", "API key name")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if strings.TrimSpace(*email) == "" {
		fmt.Fprintln(os.Stderr, "-email is required")
		os.Exit(1)
	}

	catalog := tier.DefaultCatalog()
	if *tiersFile != "" {
		var err error
		if catalog, err = tier.LoadCatalog(*tiersFile); err != nil {
			fmt.Fprintln(os.Stderr, "load tiers:", err)
			os.Exit(1)
		}
	}
	plan, err := catalog.Get(*planName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	user, err := ensureUser(ctx, repo, model.NormalizeEmail(*email), *password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := repo.UpdateUserTier(ctx, user.ID, plan.Name, plan.MonthlyLimit); err != nil {
		fmt.Fprintln(os.Stderr, "update tier:", err)
		os.Exit(1)
	}
	user.Tier = plan.Name
	user.MonthlyLimit = plan.MonthlyLimit

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	keys := service.NewAPIKeyService(repo, nil, catalog, logger, metrics.NewNoop())
	created, err := keys.Create(ctx, user, *name)
	if err != nil {
		if errors.Is(err, service.ErrAPIAccessNotAllowed) {
			fmt.Fprintf(os.Stderr, "tier %q has no API access\n", plan.Name)
		} else {
			fmt.Fprintln(os.Stderr, "create api key:", err)
		}
		os.Exit(1)
	}

	out := output{
		UserID: user.ID,
		Email:  user.Email,
		Tier:   user.Tier,
		KeyID:  created.ID,
		Key:    created.Key,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func ensureUser(ctx context.Context, repo *repository.Repository, email, password string) (*model.User, error) {
	existing, err := repo.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if password == "" {
		return nil, fmt.Errorf("no account for %s; pass -password to create one", email)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.SplitN(email, "@", 2)[0],
		Tier:         tier.Free,
		MonthlyLimit: tier.DefaultCatalog().Lookup(tier.Free).MonthlyLimit,
		ResetDate:    quota.NewTracker(repo).InitialResetDate(),
		IsActive:     true,
		IsVerified:   true,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
