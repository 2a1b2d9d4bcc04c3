package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	authsvc "chatline/internal/app/services/auth"
	domainuser "chatline/internal/domain/user"
)

type userFixture struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatar_url"`
}

// loadUserFixtures registers demo accounts. Accounts that already exist are
// left untouched, so the file can be applied on every start.
func (a application) loadUserFixtures(ctx context.Context, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("user fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("user fixtures file empty", "path", path)
		return nil
	}

	var fixtures []userFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	imported := 0
	for _, fx := range fixtures {
		_, err := a.auth.Register(ctx, authsvc.RegisterParams{
			Email:     fx.Email,
			Name:      fx.Name,
			Password:  fx.Password,
			AvatarURL: fx.AvatarURL,
		})
		switch {
		case err == nil:
			imported++
		case errors.Is(err, domainuser.ErrEmailAlreadyUsed):
			logger.Debug("fixture user exists", "email", fx.Email)
		default:
			logger.Error("fixture user invalid", "email", fx.Email, "error", err)
		}
	}
	logger.Info("user fixtures imported", "path", path, "count", imported)
	return nil
}

func defaultUserFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "users.json"),
		filepath.Join("..", "..", "data", "users.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}
