package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/config"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/records"
	"github.com/spf13/cobra"
)

// openRecords opens the account database directly. DuckDB holds an exclusive
// lock on the file, so the server must not be running.
func openRecords(cfg *config.AppConfig) (*records.DuckStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	db, err := records.Open(cfg.Storage.DatabasePath, records.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (is the server still running?)", err)
	}
	return db, nil
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts offline",
	}
	cmd.AddCommand(newUserAddCmd(), newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		username    string
		password    string
		projects    string
		permissions string
		admin       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidateUsername(username); err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			perms, err := auth.ParsePermissions(models.SplitList(permissions))
			if err != nil {
				return err
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openRecords(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			account := &models.Account{
				Username:     username,
				PasswordHash: hash,
				Projects:     models.SplitList(projects),
				Permissions:  perms,
				Admin:        admin,
			}
			if err := db.CreateAccount(cmd.Context(), account); err != nil {
				if errors.Is(err, records.ErrExists) {
					return fmt.Errorf("account %q already exists", username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created account %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "initial password (at least 8 characters)")
	cmd.Flags().StringVar(&projects, "projects", "", "comma-separated projects the account may access")
	cmd.Flags().StringVar(&permissions, "permissions", "view", "comma-separated permissions: upload, download, view")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openRecords(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			accounts, err := db.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tADMIN\tPERMISSIONS\tPROJECTS")
			for _, a := range accounts {
				perms := make([]string, len(a.Permissions))
				for i, p := range a.Permissions {
					perms[i] = string(p)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", a.Username, a.Admin,
					models.JoinList(perms), models.JoinList(a.Projects))
			}
			return w.Flush()
		},
	}
}

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print a bcrypt hash for Security.RegistrationCodeHash",
		Long: `Hashes a registration code so it can be stored in the config file.
The code is read from the first argument, or from stdin when omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading secret: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashPassword(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
