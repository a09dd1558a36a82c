package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

const maxInviteAttempts = 5

var errGroupNameRequired = fmt.Errorf("%w: group name is required", ErrValidation)

// GroupService manages groups, their membership and invite codes.
type GroupService interface {
	Create(ctx context.Context, creatorID string, req dto.CreateGroupRequest) (dto.GroupResponse, error)
	Get(ctx context.Context, viewerID, groupID string) (dto.GroupResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.GroupResponse, error)
	Update(ctx context.Context, actorID, groupID string, req dto.UpdateGroupRequest) (dto.GroupResponse, error)
	Delete(ctx context.Context, actorID, groupID string) error
	AddMember(ctx context.Context, actorID, groupID string, req dto.AddMemberRequest) (dto.GroupResponse, error)
	RemoveMember(ctx context.Context, actorID, groupID, userID string) (dto.GroupResponse, error)
	UpdateMemberRole(ctx context.Context, actorID, groupID, userID string, req dto.UpdateMemberRoleRequest) (dto.GroupResponse, error)
	Leave(ctx context.Context, userID, groupID string) (dto.GroupResponse, error)
	CreateInvite(ctx context.Context, actorID, groupID string, req dto.InviteRequest) (dto.InviteResponse, error)
	JoinByInvite(ctx context.Context, userID, code string) (dto.GroupResponse, error)
	Authorize(ctx context.Context, userID, groupID string) error
}

type groupService struct {
	groups     repository.GroupRepository
	dispatcher *Dispatcher
	mailer     Mailer
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	inviteTTL  time.Duration
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	codeGen    func() string
}

// NewGroupService constructs the group membership service. mailer may be nil.
func NewGroupService(groups repository.GroupRepository, dispatcher *Dispatcher, mailer Mailer, validate *validator.Validate, inviteTTL time.Duration, logger zerolog.Logger) GroupService {
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &groupService{
		groups:     groups,
		dispatcher: dispatcher,
		mailer:     mailer,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		inviteTTL:  inviteTTL,
		logger:     logger.With().Str("component", "group_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/group"),
		now:        func() time.Time { return time.Now().UTC() },
		codeGen:    newInviteCode,
	}
}

func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
}

func (s *groupService) Create(ctx context.Context, creatorID string, req dto.CreateGroupRequest) (dto.GroupResponse, error) {
	req.Name = strings.TrimSpace(s.sanitizer.Sanitize(req.Name))
	req.Description = strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	if req.Name == "" {
		return dto.GroupResponse{}, errGroupNameRequired
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "group.create", trace.WithAttributes(attribute.String("chat.user_id", creatorID)))
	defer span.End()

	now := s.now()
	group := models.Group{
		Name:         req.Name,
		Description:  req.Description,
		AvatarURL:    req.AvatarURL,
		CreatedBy:    creatorID,
		Privacy:      valueOr(req.Privacy, models.GroupPrivacyPrivate),
		InvitePolicy: valueOr(req.InvitePolicy, models.InvitePolicyAdmins),
		LastActivity: now,
		Members:      []models.GroupMember{newMember(creatorID, models.GroupRoleAdmin, now)},
	}

	seen := map[string]struct{}{creatorID: {}}
	for _, userID := range req.Members {
		userID = strings.TrimSpace(userID)
		if _, dup := seen[userID]; dup || userID == "" {
			continue
		}
		seen[userID] = struct{}{}
		group.Members = append(group.Members, newMember(userID, models.GroupRoleMember, now))
	}

	if err := s.groups.Create(ctx, &group); err != nil {
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("create group: %w", err)
	}

	for _, member := range group.Members[1:] {
		s.dispatcher.ToUser(member.UserID, dto.ServerEvent{
			Event: dto.EventMemberAdded,
			Data:  dto.MemberEventPayload{GroupID: group.ID, UserID: member.UserID, ActorID: creatorID, Role: string(member.Role)},
		})
	}

	s.logger.Info().Str("group_id", group.ID).Str("created_by", creatorID).Int("members", len(group.Members)).Msg("group created")
	return dto.NewGroupResponse(group), nil
}

func (s *groupService) Get(ctx context.Context, viewerID, groupID string) (dto.GroupResponse, error) {
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	if !NewMembership(&group).IsMember(viewerID) {
		return dto.GroupResponse{}, ErrNotAMember
	}
	return dto.NewGroupResponse(group), nil
}

func (s *groupService) ListMine(ctx context.Context, userID string) ([]dto.GroupResponse, error) {
	groups, err := s.groups.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return dto.NewGroupResponseSlice(groups), nil
}

func (s *groupService) Update(ctx context.Context, actorID, groupID string, req dto.UpdateGroupRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "group.update", trace.WithAttributes(attribute.String("chat.group_id", groupID)))
	defer span.End()

	group, err := s.authorizeAction(ctx, actorID, groupID, models.PermissionEditGroup)
	if err != nil {
		return dto.GroupResponse{}, err
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(s.sanitizer.Sanitize(*req.Name))
		if name == "" {
			return dto.GroupResponse{}, errGroupNameRequired
		}
		fields["name"] = name
	}
	if req.Description != nil {
		fields["description"] = strings.TrimSpace(s.sanitizer.Sanitize(*req.Description))
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if req.Privacy != nil {
		fields["privacy"] = *req.Privacy
	}
	if req.InvitePolicy != nil {
		fields["invite_policy"] = *req.InvitePolicy
	}
	if len(fields) == 0 {
		return dto.NewGroupResponse(group), nil
	}

	if err := s.groups.Update(ctx, group.ID, fields); err != nil {
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("update group: %w", err)
	}
	return s.reload(ctx, group.ID)
}

func (s *groupService) Delete(ctx context.Context, actorID, groupID string) error {
	ctx, span := s.tracer.Start(ctx, "group.delete", trace.WithAttributes(attribute.String("chat.group_id", groupID)))
	defer span.End()

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return err
	}
	if group.CreatedBy != actorID {
		return ErrNotGroupCreator
	}

	if err := s.groups.Delete(ctx, group.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete group: %w", err)
	}

	s.dispatcher.ToGroup(ctx, group.ID, dto.ServerEvent{
		Event: dto.EventGroupDeleted,
		Data:  dto.GroupDeletedPayload{GroupID: group.ID, ActorID: actorID},
	})
	s.dispatcher.CloseGroup(ctx, group.ID)
	s.logger.Info().Str("group_id", group.ID).Str("actor_id", actorID).Msg("group deleted")
	return nil
}

func (s *groupService) AddMember(ctx context.Context, actorID, groupID string, req dto.AddMemberRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, err
	}
	role := models.GroupRole(valueOr(req.Role, string(models.GroupRoleMember)))
	if !role.Valid() {
		return dto.GroupResponse{}, ErrInvalidRole
	}

	ctx, span := s.tracer.Start(ctx, "group.add_member", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.String("chat.user_id", req.UserID),
	))
	defer span.End()

	group, err := s.authorizeAction(ctx, actorID, groupID, models.PermissionAddMembers)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	membership := NewMembership(&group)
	if role == models.GroupRoleAdmin && membership.RoleOf(actorID) != models.GroupRoleAdmin {
		return dto.GroupResponse{}, ErrInsufficientPermission
	}
	if membership.IsMember(req.UserID) {
		return dto.GroupResponse{}, ErrAlreadyMember
	}

	member := newMember(req.UserID, role, s.now())
	member.GroupID = group.ID
	if err := s.groups.AddMember(ctx, &member); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.GroupResponse{}, ErrAlreadyMember
		}
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("add member: %w", err)
	}

	s.notifyMember(ctx, group.ID, dto.EventMemberAdded, dto.MemberEventPayload{
		GroupID: group.ID, UserID: req.UserID, ActorID: actorID, Role: string(role),
	})
	return s.reload(ctx, group.ID)
}

func (s *groupService) RemoveMember(ctx context.Context, actorID, groupID, userID string) (dto.GroupResponse, error) {
	if actorID == userID {
		return s.Leave(ctx, userID, groupID)
	}

	ctx, span := s.tracer.Start(ctx, "group.remove_member", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	group, err := s.authorizeAction(ctx, actorID, groupID, models.PermissionRemoveMembers)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	membership := NewMembership(&group)
	if membership.RoleOf(userID) == models.GroupRoleAdmin && membership.RoleOf(actorID) != models.GroupRoleAdmin {
		return dto.GroupResponse{}, ErrInsufficientPermission
	}
	if _, err := membership.CheckRemoval(userID); err != nil {
		return dto.GroupResponse{}, err
	}

	if err := s.groups.RemoveMember(ctx, group.ID, userID); err != nil {
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("remove member: %w", err)
	}

	s.dispatcher.RemoveFromGroup(ctx, group.ID, userID)
	s.notifyMember(ctx, group.ID, dto.EventMemberRemoved, dto.MemberEventPayload{
		GroupID: group.ID, UserID: userID, ActorID: actorID,
	})
	return s.reload(ctx, group.ID)
}

func (s *groupService) UpdateMemberRole(ctx context.Context, actorID, groupID, userID string, req dto.UpdateMemberRoleRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, err
	}
	role := models.GroupRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return dto.GroupResponse{}, ErrInvalidRole
	}

	ctx, span := s.tracer.Start(ctx, "group.update_role", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.String("chat.user_id", userID),
		attribute.String("chat.role", string(role)),
	))
	defer span.End()

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	membership := NewMembership(&group)
	if !membership.IsMember(actorID) {
		return dto.GroupResponse{}, ErrNotAMember
	}
	if membership.RoleOf(actorID) != models.GroupRoleAdmin {
		return dto.GroupResponse{}, ErrInsufficientPermission
	}
	if err := membership.CheckRoleChange(userID, role); err != nil {
		return dto.GroupResponse{}, err
	}

	if err := s.groups.UpdateMemberRole(ctx, group.ID, userID, role, models.DefaultPermissions(role)); err != nil {
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("update member role: %w", err)
	}

	s.notifyMember(ctx, group.ID, dto.EventMemberRoleUpdated, dto.MemberEventPayload{
		GroupID: group.ID, UserID: userID, ActorID: actorID, Role: string(role),
	})
	return s.reload(ctx, group.ID)
}

// Leave removes userID from the group. The final member leaving archives the group instead
// of leaving it without an admin.
func (s *groupService) Leave(ctx context.Context, userID, groupID string) (dto.GroupResponse, error) {
	ctx, span := s.tracer.Start(ctx, "group.leave", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	archive, err := NewMembership(&group).CheckRemoval(userID)
	if err != nil {
		return dto.GroupResponse{}, err
	}

	if err := s.groups.RemoveMember(ctx, group.ID, userID); err != nil {
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("leave group: %w", err)
	}
	if archive {
		if err := s.groups.Update(ctx, group.ID, map[string]interface{}{"archived": true}); err != nil {
			span.RecordError(err)
			return dto.GroupResponse{}, fmt.Errorf("archive group: %w", err)
		}
		s.logger.Info().Str("group_id", group.ID).Msg("group archived after last member left")
	}
	s.dispatcher.RemoveFromGroup(ctx, group.ID, userID)

	s.dispatcher.ToGroup(ctx, group.ID, dto.ServerEvent{
		Event: dto.EventMemberLeft,
		Data:  dto.MemberEventPayload{GroupID: group.ID, UserID: userID, ActorID: userID},
	})

	updated, err := loadGroup(ctx, s.groups, group.ID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	return dto.NewGroupResponse(updated), nil
}

func (s *groupService) CreateInvite(ctx context.Context, actorID, groupID string, req dto.InviteRequest) (dto.InviteResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.InviteResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "group.invite", trace.WithAttributes(attribute.String("chat.group_id", groupID)))
	defer span.End()

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.InviteResponse{}, err
	}
	membership := NewMembership(&group)
	if !membership.IsMember(actorID) {
		return dto.InviteResponse{}, ErrNotAMember
	}
	if group.Archived {
		return dto.InviteResponse{}, ErrGroupArchived
	}
	if group.InvitePolicy != models.InvitePolicyAllMembers && !membership.HasPermission(actorID, models.PermissionManageInvites) {
		return dto.InviteResponse{}, ErrInsufficientPermission
	}

	expiresAt := s.now().Add(s.inviteTTL)
	code, err := s.allocateInviteCode(ctx, group.ID, expiresAt)
	if err != nil {
		span.RecordError(err)
		return dto.InviteResponse{}, err
	}

	mailed := 0
	if s.mailer != nil {
		for _, email := range req.Emails {
			err := s.mailer.Send(ctx, MailTemplateGroupInvite, email, map[string]string{
				"group_id":   group.ID,
				"group_name": group.Name,
				"code":       code,
				"expires_at": expiresAt.Format(time.RFC3339),
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("group_id", group.ID).Str("recipient", maskEmailAddress(email)).Msg("failed to send group invite")
				continue
			}
			mailed++
		}
	}

	return dto.InviteResponse{GroupID: group.ID, Code: code, ExpiresAt: expiresAt, Mailed: mailed}, nil
}

// allocateInviteCode regenerates the code until one is unique.
func (s *groupService) allocateInviteCode(ctx context.Context, groupID string, expiresAt time.Time) (string, error) {
	for attempt := 0; attempt < maxInviteAttempts; attempt++ {
		code := s.codeGen()
		err := s.groups.SetInviteCode(ctx, groupID, code, expiresAt)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrInviteCodeTaken) {
			return "", fmt.Errorf("store invite code: %w", err)
		}
		s.logger.Debug().Str("group_id", groupID).Int("attempt", attempt+1).Msg("invite code collision, regenerating")
	}
	return "", ErrInviteCodeExhausted
}

func (s *groupService) JoinByInvite(ctx context.Context, userID, code string) (dto.GroupResponse, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return dto.GroupResponse{}, ErrInviteNotFound
	}

	ctx, span := s.tracer.Start(ctx, "group.join", trace.WithAttributes(attribute.String("chat.user_id", userID)))
	defer span.End()

	group, err := s.groups.FindByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GroupResponse{}, ErrInviteNotFound
		}
		return dto.GroupResponse{}, fmt.Errorf("find invite: %w", err)
	}
	if group.Archived {
		return dto.GroupResponse{}, ErrGroupArchived
	}
	if group.InviteExpiresAt != nil && !s.now().Before(*group.InviteExpiresAt) {
		return dto.GroupResponse{}, ErrInviteExpired
	}
	if NewMembership(&group).IsMember(userID) {
		return dto.GroupResponse{}, ErrAlreadyMember
	}

	member := newMember(userID, models.GroupRoleMember, s.now())
	member.GroupID = group.ID
	if err := s.groups.AddMember(ctx, &member); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.GroupResponse{}, ErrAlreadyMember
		}
		span.RecordError(err)
		return dto.GroupResponse{}, fmt.Errorf("join group: %w", err)
	}

	s.notifyMember(ctx, group.ID, dto.EventMemberAdded, dto.MemberEventPayload{
		GroupID: group.ID, UserID: userID, ActorID: userID, Role: string(models.GroupRoleMember),
	})
	return s.reload(ctx, group.ID)
}

// Authorize checks that userID may subscribe to the group's channel.
func (s *groupService) Authorize(ctx context.Context, userID, groupID string) error {
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return err
	}
	if !NewMembership(&group).IsMember(userID) {
		return ErrNotAMember
	}
	return nil
}

// authorizeAction loads an active group and checks that actorID holds permission.
func (s *groupService) authorizeAction(ctx context.Context, actorID, groupID, permission string) (models.Group, error) {
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return models.Group{}, err
	}
	membership := NewMembership(&group)
	if !membership.IsMember(actorID) {
		return models.Group{}, ErrNotAMember
	}
	if group.Archived {
		return models.Group{}, ErrGroupArchived
	}
	if !membership.HasPermission(actorID, permission) {
		return models.Group{}, ErrInsufficientPermission
	}
	return group, nil
}

// notifyMember broadcasts a membership event and also reaches the affected user directly,
// since they may not be subscribed to the channel.
func (s *groupService) notifyMember(ctx context.Context, groupID, event string, payload dto.MemberEventPayload) {
	serverEvent := dto.ServerEvent{Event: event, Data: payload}
	s.dispatcher.ToGroup(ctx, groupID, serverEvent)
	s.dispatcher.ToUser(payload.UserID, serverEvent)
}

func (s *groupService) reload(ctx context.Context, groupID string) (dto.GroupResponse, error) {
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	return dto.NewGroupResponse(group), nil
}

func newMember(userID string, role models.GroupRole, joinedAt time.Time) models.GroupMember {
	return models.GroupMember{
		UserID:      userID,
		Role:        role,
		Permissions: models.DefaultPermissions(role),
		JoinedAt:    joinedAt,
	}
}

func valueOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
