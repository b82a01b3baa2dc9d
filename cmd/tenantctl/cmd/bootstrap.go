package cmd

import (
	"errors"
	"fmt"

	"tenant-platform/internal/admin"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.Flags().String("email", "", "Super admin email (default: BOOTSTRAP_ADMIN_EMAIL)")
	bootstrapCmd.Flags().String("password", "", "Super admin password (default: BOOTSTRAP_ADMIN_PASSWORD)")
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the role catalog and create the first super admin",
	Long: `Seeds the default roles and makes the given account a super admin.
An existing identity with the same email is reused and keeps its password.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" {
			email = cfg.Bootstrap.AdminEmail
		}
		if password == "" {
			password = cfg.Bootstrap.AdminPassword
		}
		if email == "" || password == "" {
			return errors.New("--email and --password (or BOOTSTRAP_ADMIN_*) are required")
		}

		_, st, dir := services()
		res, err := admin.Bootstrap(cmd.Context(), st, dir, email, password)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return outputJSON(cmd.OutOrStdout(), res)
		}
		state := "created"
		if res.ReusedAccount {
			state = "reused"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "super admin %s (%s), %d roles in catalog\n", res.PrincipalID, state, res.CatalogSize)
		return nil
	},
}
