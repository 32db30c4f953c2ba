package rbac

// Default policy. Participants touch only their own attempt; staff operate
// the portal; admin can do everything including resets.
var RolePermissions = map[string][]string{
	"participant": {
		"exam:status",
		"attempt:start",
		"attempt:answer",
		"attempt:finish",
		"attempt:view-own",
	},
	"staff": {
		"attempts:list",
		"attempt:view-all",
		"attempt:force_finish",
		"stats:view",
		"events:view",
		"windows:view",
	},
	"admin": {
		"*", // everything
	},
}
