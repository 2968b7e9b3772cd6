package rbac

import "github.com/mortgage-marketplace/backend/internal/models"

// Role constants
const (
	RoleInvestor = "investor"
	RoleSeller   = "seller"
	RoleLawyer   = "lawyer"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Permission constants
const (
	PermCreateDeal     = "create_deal"
	PermReadDeals      = "read_deals"
	PermReviewTransfer = "review_transfer"
	PermManualOverride = "manual_override"
	PermViewMetrics    = "view_metrics"
	PermViewAlerts     = "view_alerts"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleInvestor: {PermReadDeals},
	RoleSeller:   {PermReadDeals},
	RoleLawyer:   {PermReadDeals, PermViewAlerts},
	RoleReviewer: {PermReadDeals, PermReviewTransfer, PermViewMetrics, PermViewAlerts},
	RoleAdmin: {
		PermCreateDeal, PermReadDeals, PermReviewTransfer, PermManualOverride,
		PermViewMetrics, PermViewAlerts,
		// Admin is still subject to maker-checker on its own transfers
	},
	RoleSystem: {PermReadDeals},
}

// EventRoles lists who may raise each lifecycle event directly.
var EventRoles = map[models.EventKind][]string{
	models.EventLawyerConfirmed:    {RoleLawyer, RoleAdmin},
	models.EventDocsReady:          {RoleLawyer, RoleAdmin},
	models.EventDocsSigned:         {RoleSystem, RoleAdmin},
	models.EventTransferUploaded:   {RoleAdmin},
	models.EventVerifyComplete:     {RoleAdmin},
	models.EventRejectVerification: {RoleAdmin},
	models.EventRequestDocRevision: {RoleLawyer, RoleAdmin},
	models.EventCancel:             {RoleAdmin},
	models.EventArchive:            {RoleAdmin, RoleSystem},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	return contains(RolePermissions[role], permission)
}

// CanRaiseEvent reports whether role may send kind through the transitions API.
// Events raised only by the review workflow are never allowed.
func CanRaiseEvent(role string, kind models.EventKind) bool {
	return contains(EventRoles[kind], role)
}

// ActorType maps a role to the audit actor type.
func ActorType(role string) string {
	switch role {
	case RoleAdmin:
		return models.ActorTypeAdmin
	case RoleSystem:
		return models.ActorTypeSystem
	default:
		return models.ActorTypeUser
	}
}

func IsKnownRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
