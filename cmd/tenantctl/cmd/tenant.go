package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/tenancy"

	"github.com/spf13/cobra"
)

var callerID string

func init() {
	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantProvisionalCmd)
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantDiscardCmd)

	tenantCmd.PersistentFlags().StringVar(&callerID, "as", "", "Principal ID of the super admin performing the operation")
	_ = tenantCmd.MarkPersistentFlagRequired("as")

	tenantCreateCmd.Flags().StringP("name", "n", "", "Tenant name")
	tenantCreateCmd.Flags().String("contact", "", "Tenant contact email")
	tenantCreateCmd.Flags().String("type", string(tenancy.TenantTypeRegular), "Tenant type: regular or msp_tenant")
	tenantCreateCmd.Flags().String("admin-email", "", "Email of the tenant admin")
	tenantCreateCmd.Flags().String("admin-name", "", "Display name of the tenant admin")
	tenantCreateCmd.Flags().String("resume", "", "Resume provisioning of this provisional tenant ID")
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Inspect and repair tenant provisioning",
}

var tenantProvisionalCmd = &cobra.Command{
	Use:   "provisional",
	Short: "List tenants whose provisioning never completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, _ := services()
		tenants, err := svc.ProvisionalTenants(cmd.Context(), callerID)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return outputJSON(cmd.OutOrStdout(), tenants)
		}
		if len(tenants) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No provisional tenants.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tCREATED")
		for _, t := range tenants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Type, t.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant with its admin, or resume a partial one",
	Long: `Runs the tenant provisioning workflow. The admin password is generated
and printed once. On a partial failure the command prints the tenant ID to
pass to --resume.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := provisioning.CreateTenantRequest{}
		req.TenantName, _ = cmd.Flags().GetString("name")
		req.TenantEmail, _ = cmd.Flags().GetString("contact")
		tenantType, _ := cmd.Flags().GetString("type")
		req.TenantType = tenancy.TenantType(tenantType)
		req.AdminEmail, _ = cmd.Flags().GetString("admin-email")
		req.AdminDisplayName, _ = cmd.Flags().GetString("admin-name")
		req.ResumeTenantID, _ = cmd.Flags().GetString("resume")

		svc, _, _ := services()
		res, err := svc.CreateTenant(cmd.Context(), callerID, req)
		if err != nil {
			var e *apperr.Error
			if errors.As(err, &e) && e.Kind == apperr.KindPartialProvisioning {
				return fmt.Errorf("%w\nresume with: tenantctl tenant create --as %s --admin-email %s --resume %s",
					err, callerID, req.AdminEmail, e.TenantID)
			}
			if res == nil || apperr.KindOf(err) != apperr.KindAuditWriteFailed {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		if outputFormat == "json" {
			return outputJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s) active, admin %s\n", res.Tenant.ID, res.Tenant.Name, res.Admin.ID)
		if res.Password != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "admin password (shown once): %s\n", res.Password)
		}
		return nil
	},
}

var tenantDiscardCmd = &cobra.Command{
	Use:   "discard <tenant-id>",
	Short: "Delete a provisional tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, _ := services()
		if err := svc.DiscardTenant(cmd.Context(), callerID, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tenant %s discarded\n", args[0])
		return nil
	},
}
