package permissions

import "github.com/quantleap/tradecrm/internal/models"

// Compiled catalog declarations. Orders are append-only: a descriptor's order
// is its bit position in encoded permission strings and must never be reused.
func init() {
	admins := []string{models.RoleAdmin}
	managers := []string{models.RoleAdmin, models.RoleManager}
	everyone := []string{models.RoleAdmin, models.RoleManager, models.RoleUser}

	descriptors := []*Descriptor{
		{Section: "Clients", Title: "View", ActionType: "V", Order: 0, Description: "View client records", AllowedRoles: managers},
		{Section: "Clients", Title: "Create", ActionType: "C", Order: 1, Description: "Create client records", AllowedRoles: managers},
		{Section: "Clients", Title: "Update", ActionType: "U", Order: 2, Description: "Update client records", AllowedRoles: managers},
		{Section: "Clients", Title: "Delete", ActionType: "D", Order: 3, Description: "Delete client records", AllowedRoles: admins},

		{Section: "Leads", Title: "View", ActionType: "V", Order: 4, Description: "View leads", AllowedRoles: everyone},
		{Section: "Leads", Title: "Create", ActionType: "C", Order: 5, Description: "Create leads", AllowedRoles: everyone},
		{Section: "Leads", Title: "Update", ActionType: "U", Order: 6, Description: "Update leads", AllowedRoles: managers},
		{Section: "Leads", Title: "Delete", ActionType: "D", Order: 7, Description: "Delete leads", AllowedRoles: admins},

		{Section: "Users", Title: "View", ActionType: "V", Order: 8, Description: "View platform users", AllowedRoles: managers},
		{Section: "Users", Title: "Create", ActionType: "C", Order: 9, Description: "Create platform users", AllowedRoles: admins},
		{Section: "Users", Title: "Update", ActionType: "U", Order: 10, Description: "Update platform users", AllowedRoles: admins},
		{Section: "Users", Title: "Delete", ActionType: "D", Order: 11, Description: "Delete platform users", AllowedRoles: admins},

		{Section: "Affiliates", Title: "View", ActionType: "V", Order: 12, Description: "View affiliates", AllowedRoles: managers},
		{Section: "Affiliates", Title: "Create", ActionType: "C", Order: 13, Description: "Create affiliates", AllowedRoles: admins},
		{Section: "Affiliates", Title: "Update", ActionType: "U", Order: 14, Description: "Update affiliates", AllowedRoles: admins},
		{Section: "Affiliates", Title: "ManageSecrets", ActionType: "U", Order: 15, Description: "Issue and revoke affiliate API secrets", AllowedRoles: admins},

		{Section: "TradingAccounts", Title: "View", ActionType: "V", Order: 16, Description: "View trading accounts", AllowedRoles: managers},
		{Section: "TradingAccounts", Title: "Update", ActionType: "U", Order: 17, Description: "Update trading accounts", AllowedRoles: admins},

		{Section: "Permissions", Title: "View", ActionType: "V", Order: 18, Description: "View the permission catalog and grants", AllowedRoles: admins},
		{Section: "Permissions", Title: "Manage", ActionType: "U", Order: 19, Description: "Grant and revoke user permissions", AllowedRoles: admins},

		{Section: "Reports", Title: "View", ActionType: "V", Order: 20, Description: "View reports", AllowedRoles: managers},
	}

	for _, desc := range descriptors {
		MustRegister(desc)
	}
}
