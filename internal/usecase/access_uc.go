package usecase

import (
	"context"
	"errors"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase maps caller principals to roles and gates privileged calls.
type AccessUseCase interface {
	// RoleOf returns the caller's role, defaulting to the least-privileged
	// role for principals that were never assigned one.
	RoleOf(ctx context.Context, principal string) (model.UserRole, error)
	// AssignRole sets target's role. Only admin callers may do this; any
	// other caller gets domain.ErrUnauthorized and the mapping is unchanged.
	AssignRole(ctx context.Context, caller, target string, role model.UserRole) error
	IsAdmin(ctx context.Context, principal string) (bool, error)
}

type accessUC struct {
	roles repository.RoleRepository
	log   *zerolog.Logger
}

func NewAccessUseCase(roles repository.RoleRepository, logger *zerolog.Logger) *accessUC {
	return &accessUC{roles: roles, log: logger}
}

func (a *accessUC) RoleOf(ctx context.Context, principal string) (model.UserRole, error) {
	if principal == "" {
		return model.DefaultRole, nil
	}
	role, err := a.roles.RoleOf(ctx, repository.NoTX, principal)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.DefaultRole, nil
		}
		return "", err
	}
	return role, nil
}

func (a *accessUC) AssignRole(ctx context.Context, caller, target string, role model.UserRole) error {
	defer logging.TraceDuration(a.log, "AccessUC.AssignRole")()

	if _, err := model.ParseUserRole(string(role)); err != nil {
		return err
	}
	if target == "" {
		return domain.ErrInvalidParams
	}
	admin, err := a.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !admin {
		a.log.Warn().Str("caller", caller).Str("target", target).Msg("role assignment denied")
		return domain.ErrUnauthorized
	}
	if err := a.roles.Assign(ctx, repository.NoTX, target, role); err != nil {
		return err
	}
	a.log.Info().Str("caller", caller).Str("target", target).Str("role", string(role)).Msg("role assigned")
	return nil
}

func (a *accessUC) IsAdmin(ctx context.Context, principal string) (bool, error) {
	role, err := a.RoleOf(ctx, principal)
	if err != nil {
		return false, err
	}
	return role == model.UserRoleAdmin, nil
}

// canMutate reports whether caller may mutate a resource owned by owner.
func canMutate(ctx context.Context, access AccessUseCase, caller, owner string) (bool, error) {
	if caller != "" && caller == owner {
		return true, nil
	}
	return access.IsAdmin(ctx, caller)
}
