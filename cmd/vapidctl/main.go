package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	"github.com/spf13/cobra"
)

type keyManager interface {
	GetKeyPair(ctx context.Context) (*vapid.KeyPair, error)
	Rotate(ctx context.Context) (*vapid.KeyPair, error)
}

// managerOpener returns a key manager bound to the key store and a func that releases it.
type managerOpener func(ctx context.Context) (keyManager, func() error, error)

func main() {
	if err := newRootCommand(openManager).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(open managerOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "vapidctl",
		Short:         "Manage the VAPID key pair used to sign web push requests",
		SilenceUsage:  true,
	}

	root.AddCommand(
		newGenerateCommand(),
		newValidateCommand(),
		newPublicKeyCommand(open),
		newRotateCommand(open),
	)
	return root
}

func newGenerateCommand() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair and print it as environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := vapid.GenerateKeyPair(subject)
			if err != nil {
				return err
			}
			return printKeyPair(cmd.OutOrStdout(), kp, true)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "mailto:admin@example.com", "contact URI sent as the token subject")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var publicKey, privateKey string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a public and private key belong together",
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicKey == "" {
				publicKey = os.Getenv("VAPID_PUBLIC_KEY")
			}
			if privateKey == "" {
				privateKey = os.Getenv("VAPID_PRIVATE_KEY")
			}
			if publicKey == "" || privateKey == "" {
				return errors.New("both --public-key and --private-key are required")
			}

			if err := vapid.ValidateKeys(publicKey, privateKey); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "vapid keys are valid")
			return err
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64url public key (defaults to VAPID_PUBLIC_KEY)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "base64url private key (defaults to VAPID_PRIVATE_KEY)")
	return cmd
}

func newPublicKeyCommand(open managerOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "public-key",
		Short: "Print the active public key, generating a key pair if the store has none",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn() //nolint:errcheck

			kp, err := manager.GetKeyPair(cmd.Context())
			if err != nil {
				return err
			}
			return printKeyPair(cmd.OutOrStdout(), kp, false)
		},
	}
}

func newRotateCommand(open managerOpener) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the active key pair",
		Long: strings.TrimSpace(`
Replace the active key pair. Push services bind subscriptions to the public key
they were created with, so existing subscriptions may be rejected until clients
re-subscribe with the new key.`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("rotation invalidates existing subscriptions; rerun with --yes to proceed")
			}

			manager, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn() //nolint:errcheck

			kp, err := manager.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			return printKeyPair(cmd.OutOrStdout(), kp, false)
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the rotation")
	return cmd
}

func printKeyPair(w io.Writer, kp *vapid.KeyPair, withPrivate bool) error {
	publicKey, err := kp.PublicKeyString()
	if err != nil {
		return err
	}

	lines := []string{"VAPID_PUBLIC_KEY=" + publicKey}
	if withPrivate {
		privateKey, err := kp.PrivateKeyString()
		if err != nil {
			return err
		}
		lines = append(lines, "VAPID_PRIVATE_KEY="+privateKey)
	}
	if kp.Subject != "" {
		lines = append(lines, "VAPID_SUBJECT="+kp.Subject)
	}

	_, err = fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func openManager(ctx context.Context) (keyManager, func() error, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger("vapidctl", cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolOptions(), logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	if err := migrations.Migrate(ctx, db, logger); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	manager, err := vapid.NewManager(repository.NewGormVapidKeyRepo(db), cfg.VapidSubject, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	return manager, sqlDB.Close, nil
}
