package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-backend/internal/app"
	"library-backend/internal/auth"
	"library-backend/internal/models"
)

// readPassword reads a password without echoing it
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func newUsersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}

	var username, email, roleName string
	create := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := models.ParseRole(roleName)
			if !ok || !role.IsStaff() {
				return fmt.Errorf("role must be admin or librarian, got %q", roleName)
			}

			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			db, err := app.OpenStorage(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			issuer := auth.NewIssuer(e.cfg.JWTSecret, e.cfg.AccessTTL, e.cfg.RefreshTTL)
			user, err := auth.NewService(db, issuer, e.logger).CreateUser(cmd.Context(), username, email, password, role)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Printf("Created %s %q (id %d)\n", user.Role, user.Username, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "account username")
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&roleName, "role", string(models.RoleAdmin), "admin or librarian")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}
