package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenant-platform/internal/identity"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"
)

// BootstrapResult reports what Bootstrap did.
type BootstrapResult struct {
	PrincipalID   string `json:"principal_id"`
	CatalogSize   int    `json:"catalog_size"`
	ReusedAccount bool   `json:"reused_account"`
}

// Bootstrap seeds the role catalog and makes email a super admin, creating
// its login identity when none exists. An existing identity keeps its
// password. Safe to run repeatedly.
func Bootstrap(ctx context.Context, st store.Store, dir identity.Directory, email, password string) (BootstrapResult, error) {
	var res BootstrapResult
	email = strings.TrimSpace(email)
	if email == "" {
		return res, errors.New("bootstrap: admin email is required")
	}
	if err := provisioning.ValidatePassword(password); err != nil {
		return res, fmt.Errorf("bootstrap: %w", err)
	}

	catalog, err := st.SeedRoles(ctx, tenancy.DefaultRoles())
	if err != nil {
		return res, fmt.Errorf("bootstrap: seed roles: %w", err)
	}
	res.CatalogSize = len(catalog)

	id, err := dir.CreatePrincipal(ctx, email, password, map[string]string{"display_name": "Platform Admin"})
	var dup *identity.DuplicateEmailError
	switch {
	case errors.As(err, &dup):
		id, res.ReusedAccount = dup.ExistingID, true
	case err != nil:
		return res, fmt.Errorf("bootstrap: create identity: %w", err)
	}
	res.PrincipalID = id

	if err := st.BootstrapSuperAdmin(ctx, tenancy.Principal{ID: id, Email: email, DisplayName: "Platform Admin"}); err != nil {
		return res, fmt.Errorf("bootstrap: assign super admin: %w", err)
	}
	return res, nil
}
