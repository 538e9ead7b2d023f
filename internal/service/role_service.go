package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"consult-room/internal/rolestore"
)

var (
	ErrRoleServiceNotConfigured = errors.New("role service not configured")
	ErrUserNotFound             = errors.New("user not found")
)

const adminField = "isAdmin"

// RoleService mantiene el flag de administrador en el documento del usuario.
type RoleService struct {
	logger     *zap.Logger
	store      rolestore.FieldUpdater
	collection string
}

func NewRoleService(logger *zap.Logger, store rolestore.FieldUpdater, collection string) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(collection) == "" {
		collection = "users"
	}
	return &RoleService{logger: logger, store: store, collection: collection}
}

func (s *RoleService) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	if s == nil || s.store == nil {
		return ErrRoleServiceNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserNotFound
	}
	if err := s.store.UpdateField(ctx, s.collection, userID, adminField, isAdmin); err != nil {
		if errors.Is(err, rolestore.ErrDocumentNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Info("admin flag updated", zap.String("user_id", userID), zap.Bool("is_admin", isAdmin))
	return nil
}
