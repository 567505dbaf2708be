package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// seedCredits is the starting balance for development accounts.
const seedCredits = 5

// seedDevUsers creates the accounts named in DEV_SEED_USERS (comma-separated
// ids) with the starting credit balance. Existing accounts are left alone.
func seedDevUsers(ctx domain.Context, users domain.UserRepository) {
	raw := os.Getenv("DEV_SEED_USERS")
	if raw == "" {
		return
	}
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		err := users.Create(ctx, domain.User{ID: id, Credits: seedCredits})
		switch {
		case err == nil:
			slog.Info("seeded dev user", slog.String("user_id", id), slog.Int("credits", seedCredits))
		case errors.Is(err, domain.ErrConflict):
			// Already present.
		default:
			slog.Warn("dev user seed failed", slog.String("user_id", id), slog.Any("error", err))
		}
	}
}
