package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var tokenStaffIDFlag string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a staff member",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenStaffIDFlag, "staff-id", "", "Staff member to issue the token for")
	_ = tokenCmd.MarkFlagRequired("staff-id")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	staff, err := a.store.Staff.GetByID(cmd.Context(), tokenStaffIDFlag)
	if err != nil {
		return fmt.Errorf("failed to load staff %s: %w", tokenStaffIDFlag, err)
	}
	token, err := a.jwt.GenerateToken(staff)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
