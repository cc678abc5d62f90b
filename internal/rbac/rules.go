package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"quiz:view",
		"attempt:submit",
		"attempt:view-own",
	},
	"teacher": {
		"quiz:*",
		"attempt:view-all",
		"essay:grade",
		"analytics:view",
		"roster:manage",
		"asset:upload",
	},
	"admin": {
		"*", // everything
	},
}
