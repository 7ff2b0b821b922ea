package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new database and admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.DatabasePath); err == nil {
				return fmt.Errorf("database %s already exists", cfg.DatabasePath)
			}

			database, password, err := initDatabase(cfg)
			if err != nil {
				return err
			}
			database.Close()

			printInitResult(cmd.OutOrStdout(), cfg.DatabasePath, cfg.AdminUsername, password)
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", "", "admin username (default: admin)")
	return cmd
}

// initDatabase creates the database, applies the schema and creates the admin
// account with a generated password. On failure the database file is removed.
func initDatabase(cfg *config.Config) (_ *sql.DB, _ string, err error) {
	database, err := db.Open(cfg.DatabasePath, db.WithBusyTimeout(cfg.BusyTimeout))
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err != nil {
			database.Close()
			os.Remove(cfg.DatabasePath)
		}
	}()

	if err := db.Migrate(database); err != nil {
		return nil, "", fmt.Errorf("applying schema: %w", err)
	}

	password, err := generatePassword(16)
	if err != nil {
		return nil, "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateMember(context.Background(), database, cfg.AdminUsername, "", string(hash), model.RoleAdmin); err != nil {
		return nil, "", fmt.Errorf("creating admin account: %w", err)
	}

	return database, password, nil
}

func printInitResult(w io.Writer, dbPath, username, password string) {
	fmt.Fprintf(w, "Database created: %s\n\n", dbPath)
	fmt.Fprintln(w, "Admin account created:")
	fmt.Fprintf(w, "  Username: %s\n", username)
	fmt.Fprintf(w, "  Password: %s\n\n", password)
	fmt.Fprintln(w, "Save this password, it cannot be recovered.")
}

const passwordCharset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%&*"

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	limit := big.NewInt(int64(len(passwordCharset)))
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		result[i] = passwordCharset[n.Int64()]
	}
	return string(result), nil
}
