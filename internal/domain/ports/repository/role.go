package repository

import (
	"context"

	"video-generation-service/internal/domain/model"
)

// RoleRepository maps caller principals to roles. RoleOf returns
// domain.ErrNotFound for principals that were never assigned; the access
// layer translates that into the default (least-privileged) role.
type RoleRepository interface {
	RoleOf(ctx context.Context, tx Tx, principal string) (model.UserRole, error)
	Assign(ctx context.Context, tx Tx, principal string, role model.UserRole) error
}
