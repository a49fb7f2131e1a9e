package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// DefaultAdminUsername is used when no bootstrap username is configured.
const DefaultAdminUsername = "admin"

// SeedAdmin creates the initial ADMIN account on first boot if no users exist.
// The generated password is logged once at WARN and must be changed.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, userRepo UserRepository, codec *Codec, username string, logger *slog.Logger) (string, error) {
	count, err := userRepo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	if username == "" {
		username = DefaultAdminUsername
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	credential, err := codec.Encode(password)
	if err != nil {
		return "", fmt.Errorf("encoding seed password: %w", err)
	}

	admin := &User{
		Username:   username,
		Credential: credential,
		Role:       RoleAdmin,
		Status:     StatusActive,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", username,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
