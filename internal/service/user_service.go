package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/sanitize"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UpdateUserRequest carries the admin-managed fields. Nil fields are left unchanged.
type UpdateUserRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=2,max=80"`
	Role        *string `json:"role" validate:"omitempty,oneof=student instructor admin superuser"`
	Status      *string `json:"status" validate:"omitempty,oneof=active inactive"`
}

// UpdateProfileRequest carries the self-service profile fields.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=2,max=80"`
	Headline    string `json:"headline" validate:"max=120"`
	Bio         string `json:"bio" validate:"max=2000"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url"`
	Website     string `json:"website" validate:"omitempty,url"`
}

// UserService handles account administration and the caller's own profile.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	sanitizer *sanitize.Sanitizer
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, sanitizer *sanitize.Sanitizer, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if sanitizer == nil {
		sanitizer = sanitize.New()
	}
	return &UserService{repo: repo, validator: validate, sanitizer: sanitizer, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, paginate(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Update changes role, status or display name of an account on behalf of an administrator.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actor models.Principal, meta ClientMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleSuperuser && actor.Role != models.RoleSuperuser {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only a superuser may modify a superuser")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "status": user.Status, "display_name": user.DisplayName})

	if req.DisplayName != nil {
		user.DisplayName = s.sanitizer.Text(*req.DisplayName)
	}
	if req.Role != nil {
		role, _ := models.ParseRole(*req.Role)
		if role == models.RoleSuperuser && actor.Role != models.RoleSuperuser {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only a superuser may grant the superuser role")
		}
		if user.ID == actor.UserID && role != user.Role {
			return nil, appErrors.Clone(appErrors.ErrConflict, "administrators cannot change their own role")
		}
		user.Role = role
	}
	if req.Status != nil {
		status := models.UserStatus(*req.Status)
		if user.ID == actor.UserID && status != models.UserStatusActive {
			return nil, appErrors.Clone(appErrors.ErrConflict, "administrators cannot deactivate themselves")
		}
		user.Status = status
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "status": user.Status, "display_name": user.DisplayName})
	s.audit(ctx, actor.UserID, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)
	return user, nil
}

// Delete removes an account. Entitlements and transactions of the user are left in place.
func (s *UserService) Delete(ctx context.Context, id string, actor models.Principal, meta ClientMeta) error {
	if id == actor.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "administrators cannot delete their own account")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == models.RoleSuperuser && actor.Role != models.RoleSuperuser {
		return appErrors.Clone(appErrors.ErrForbidden, "only a superuser may delete a superuser")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.Role})
	s.audit(ctx, actor.UserID, models.AuditActionUserDelete, user.ID, oldPayload, nil, meta)
	return nil
}

// Profile returns the principal's own account.
func (s *UserService) Profile(ctx context.Context, principal models.Principal) (*models.User, error) {
	if !principal.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	return s.Get(ctx, principal.UserID)
}

// UpdateProfile replaces the principal's self-service fields. Role and status are never touched here.
func (s *UserService) UpdateProfile(ctx context.Context, principal models.Principal, req UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.Profile(ctx, principal)
	if err != nil {
		return nil, err
	}

	user.DisplayName = s.sanitizer.Text(req.DisplayName)
	user.Profile = models.UserProfile{
		Headline:  s.sanitizer.Text(req.Headline),
		Bio:       s.sanitizer.HTML(req.Bio),
		AvatarURL: req.AvatarURL,
		Website:   req.Website,
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, actorID, action, userID string, oldValues, newValues []byte, meta ClientMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}

func paginate(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
