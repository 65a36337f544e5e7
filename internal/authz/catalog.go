package authz

import "context"

// Builtin module short codes. Domain CRUD for most of these lives outside
// this service; the catalog still names them so permissions exist to check.
const (
	ModuleUsers         = "users"
	ModuleRoles         = "roles"
	ModuleCompanies     = "companies"
	ModuleBusinessUnits = "businessunits"
	ModulePlans         = "plans"
	ModuleObjectives    = "objectives"
	ModuleGoals         = "goals"
	ModuleProjects      = "projects"
	ModuleIndicators    = "indicators"
)

// Builtin role names seeded at bootstrap.
const (
	RoleAdmin      = "Admin"
	RoleManager    = "Manager"
	RoleSpecialist = "Specialist"
	RoleClient     = "Client"
	RoleViewer     = "Viewer"
	RoleOperator   = "Operator"
)

var builtinModules = []Module{
	{ShortCode: ModuleUsers, Name: "Users"},
	{ShortCode: ModuleRoles, Name: "Roles"},
	{ShortCode: ModuleCompanies, Name: "Companies"},
	{ShortCode: ModuleBusinessUnits, Name: "Business Units"},
	{ShortCode: ModulePlans, Name: "Strategic Plans"},
	{ShortCode: ModuleObjectives, Name: "Objectives"},
	{ShortCode: ModuleGoals, Name: "Goals"},
	{ShortCode: ModuleProjects, Name: "Projects"},
	{ShortCode: ModuleIndicators, Name: "Indicators"},
}

// BuiltinModules returns the platform module registry in catalog order.
func BuiltinModules() []Module {
	out := make([]Module, len(builtinModules))
	copy(out, builtinModules)
	return out
}

// BuiltinPermissionNames returns every "module.action" pair the catalog seeds.
func BuiltinPermissionNames() []string {
	names := make([]string, 0, len(builtinModules)*len(Actions))
	for _, m := range builtinModules {
		for _, a := range Actions {
			names = append(names, m.ShortCode+"."+string(a))
		}
	}
	return names
}

// EnsureBuiltins seeds the catalog with the builtin modules and the full
// action grid for each. Already-present rows are left untouched, so this is
// safe to run on every process start.
func EnsureBuiltins(ctx context.Context, catalog CatalogStore) error {
	modules := BuiltinModules()
	perms := make([]Permission, 0, len(modules)*len(Actions))
	for _, m := range modules {
		for _, a := range Actions {
			perms = append(perms, Permission{
				Name: m.ShortCode + "." + string(a),
			})
		}
	}
	return catalog.Ensure(ctx, modules, perms)
}
