package model

import "video-generation-service/internal/domain"

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
	UserRoleGuest UserRole = "guest"
)

func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case UserRoleAdmin, UserRoleUser, UserRoleGuest:
		return UserRole(s), nil
	default:
		return "", domain.ErrInvalidParams
	}
}

// DefaultRole is assigned to first-seen principals until an admin promotes them.
const DefaultRole = UserRoleGuest
