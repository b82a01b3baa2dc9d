package policy

import (
	"fmt"
	"strings"

	"tenant-platform/internal/tenancy"
)

// Row filters for SQL storage. They restate Subject.SuperAdmin and
// Subject.CanAccessClient over the schema in internal/store/schema.sql, so a
// change to one predicate must change its fragment here too.

// SuperAdminSQL renders "caller holds Super Admin". callerArg is a bind
// placeholder such as "$1".
func SuperAdminSQL(callerArg string) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM role_assignments ra JOIN roles r ON r.id = ra.role_id WHERE ra.principal_id = %s AND r.name = %s)",
		callerArg, quote(tenancy.RoleSuperAdmin),
	)
}

// AccessClientSQL renders CanAccessClient for a row whose tenant id lives in
// tenantColumn. A NULL tenantColumn only passes the super admin branch.
func AccessClientSQL(callerArg, tenantColumn string) string {
	return fmt.Sprintf(
		"(%s OR %s = (SELECT p.client_id FROM principals p WHERE p.id = %s))",
		SuperAdminSQL(callerArg), tenantColumn, callerArg,
	)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
