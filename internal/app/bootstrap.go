package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evs/internal/config"
	"evs/internal/domain"
	"evs/internal/repo"
)

// ResolveConfig loads the workspace config, seeding the default file on
// first use so a fresh checkout works without manual setup.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// EnsureAdmin guarantees at least one admin account exists. A fresh database
// gets the provided credentials; an existing admin wins over them.
func EnsureAdmin(ctx context.Context, r repo.Repo, username, password string) (domain.Account, error) {
	if username == "" {
		username = "admin"
	}
	existing, err := r.GetAccountByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Account{}, err
	}
	if password == "" {
		return domain.Account{}, fmt.Errorf("admin account %q missing and no password provided; set EVS_ADMIN_PASSWORD", username)
	}
	a := domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: repo.HashSecret(password),
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertAccount(ctx, nil, a); err != nil {
		return domain.Account{}, fmt.Errorf("seed admin account: %w", err)
	}
	a.PasswordHash = ""
	return a, nil
}
