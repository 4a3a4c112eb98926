// cmd/seedoperator creates or refreshes an operator account.
// Usage: go run ./cmd/seedoperator --username admin --name "Admin" --role admin
// The password comes from --password or SEED_PASSWORD.
package main

import (
	"context"
	"os"
	"time"

	"restopos/internal/config"
	"restopos/internal/infra"
	"restopos/internal/model"
	"restopos/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	username := pflag.String("username", "admin", "login name")
	name := pflag.String("name", "Administrator", "display name")
	role := pflag.String("role", model.RoleAdmin, "cashier | supervisor | admin")
	password := pflag.String("password", os.Getenv("SEED_PASSWORD"), "password (default $SEED_PASSWORD)")
	pflag.Parse()

	switch *role {
	case model.RoleCashier, model.RoleSupervisor, model.RoleAdmin:
	default:
		log.Fatal().Str("role", *role).Msg("unknown role")
	}
	if len(*password) < 8 {
		log.Fatal().Msg("password must have at least 8 characters")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), 12)
	if err != nil {
		log.Fatal().Err(err).Msg("bcrypt")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	op := &model.Operator{
		Username:     *username,
		Name:         *name,
		PasswordHash: string(hash),
		Role:         *role,
		Active:       true,
	}
	if err := repository.NewOperatorRepository(db).Upsert(ctx, op); err != nil {
		log.Fatal().Err(err).Msg("upsert operator")
	}
	log.Info().Str("username", *username).Str("role", *role).Msg("operator created or updated")
}
