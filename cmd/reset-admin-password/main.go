// Command reset-admin-password sets the password of an admin account,
// optionally creating the account first.
//
//	reset-admin-password -phone 01000000000 -password 'new secret'
//	reset-admin-password -phone 01000000000 -password 'new secret' -create -name Root
//
// It reads the same configuration as the server to find the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/config"
	applog "github.com/naqwa/academy/internal/log"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
	"github.com/naqwa/academy/internal/server"
	"github.com/naqwa/academy/internal/service"
)

type options struct {
	phone    string
	password string
	name     string
	create   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.phone, "phone", "", "admin phone number (required)")
	flag.StringVar(&opts.password, "password", "", "new password (required)")
	flag.StringVar(&opts.name, "name", "Admin", "display name when creating")
	flag.BoolVar(&opts.create, "create", false, "create the admin if it does not exist")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := applog.New(applog.Options{
		Environment: cfg.Environment,
		Level:       cfg.Log.Level,
		Format:      applog.FormatConsole,
		Out:         os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := server.OpenStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	passwords := auth.NewPasswordService(cfg.Security.BcryptCost)
	if err := run(ctx, store, passwords, opts, logger); err != nil {
		logger.Error().Err(err).Msg("reset failed")
		store.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, admins repository.AdminRepository, passwords *auth.PasswordService, opts options, logger zerolog.Logger) error {
	if opts.phone == "" || opts.password == "" {
		return errors.New("-phone and -password are required")
	}
	phone, err := service.NormalizePhone(opts.phone, "phone")
	if err != nil {
		return err
	}

	digest, err := passwords.Hash(opts.password)
	if err != nil {
		return err
	}
	cred := model.HashedCredential(digest)

	err = admins.UpdateAdminPassword(ctx, phone, cred)
	switch {
	case err == nil:
		logger.Info().Str("phone", phone).Msg("admin password updated")
		return nil
	case !errors.Is(err, apperror.ErrNotFound):
		return err
	case !opts.create:
		return fmt.Errorf("no admin with phone %s (use -create to add one)", phone)
	}

	admin := &model.Admin{Name: opts.name, PhoneNumber: phone, Password: cred}
	if err := admins.CreateAdmin(ctx, admin); err != nil {
		return err
	}
	logger.Info().Str("phone", phone).Str("admin_id", admin.ID).Msg("admin created")
	return nil
}
