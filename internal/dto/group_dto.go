package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// CreateGroupRequest creates a group with the caller as sole admin.
type CreateGroupRequest struct {
	Name         string   `json:"name" validate:"required,min=1,max=100"`
	Description  string   `json:"description" validate:"max=500"`
	AvatarURL    string   `json:"avatar_url" validate:"omitempty,url,max=512"`
	Privacy      string   `json:"privacy" validate:"omitempty,oneof=private public"`
	InvitePolicy string   `json:"invite_policy" validate:"omitempty,oneof=admins members"`
	Members      []string `json:"members" validate:"max=256,dive,required,max=64"`
}

// UpdateGroupRequest patches group profile and settings.
type UpdateGroupRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	AvatarURL    *string `json:"avatar_url" validate:"omitempty,url,max=512"`
	Privacy      *string `json:"privacy" validate:"omitempty,oneof=private public"`
	InvitePolicy *string `json:"invite_policy" validate:"omitempty,oneof=admins members"`
}

// AddMemberRequest adds a user to a group.
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Role   string `json:"role" validate:"omitempty,oneof=admin moderator member"`
}

// UpdateMemberRoleRequest changes a member's role.
type UpdateMemberRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// InviteRequest generates an invite code and optionally mails it.
type InviteRequest struct {
	Emails []string `json:"emails" validate:"max=50,dive,required,email"`
}

// GroupMemberResponse describes one member of a group.
type GroupMemberResponse struct {
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	JoinedAt    time.Time `json:"joined_at"`
}

// GroupResponse is the public view of a group.
type GroupResponse struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	AvatarURL       string                `json:"avatar_url,omitempty"`
	CreatedBy       string                `json:"created_by"`
	Privacy         string                `json:"privacy"`
	InvitePolicy    string                `json:"invite_policy"`
	LastMessageID   *string               `json:"last_message_id,omitempty"`
	LastActivity    time.Time             `json:"last_activity"`
	MessageCount    int64                 `json:"message_count"`
	InviteCode      *string               `json:"invite_code,omitempty"`
	InviteExpiresAt *time.Time            `json:"invite_expires_at,omitempty"`
	Archived        bool                  `json:"archived"`
	Members         []GroupMemberResponse `json:"members"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewGroupResponse maps a group model into a response.
func NewGroupResponse(group models.Group) GroupResponse {
	members := make([]GroupMemberResponse, 0, len(group.Members))
	for _, member := range group.Members {
		permissions := []string(member.Permissions)
		if permissions == nil {
			permissions = []string{}
		}
		members = append(members, GroupMemberResponse{
			UserID:      member.UserID,
			Role:        string(member.Role),
			Permissions: permissions,
			JoinedAt:    member.JoinedAt,
		})
	}

	return GroupResponse{
		ID:              group.ID,
		Name:            group.Name,
		Description:     group.Description,
		AvatarURL:       group.AvatarURL,
		CreatedBy:       group.CreatedBy,
		Privacy:         group.Privacy,
		InvitePolicy:    group.InvitePolicy,
		LastMessageID:   group.LastMessageID,
		LastActivity:    group.LastActivity,
		MessageCount:    group.MessageCount,
		InviteCode:      group.InviteCode,
		InviteExpiresAt: group.InviteExpiresAt,
		Archived:        group.Archived,
		Members:         members,
		CreatedAt:       group.CreatedAt,
		UpdatedAt:       group.UpdatedAt,
	}
}

// NewGroupResponseSlice maps a list of groups.
func NewGroupResponseSlice(groups []models.Group) []GroupResponse {
	result := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		result = append(result, NewGroupResponse(group))
	}
	return result
}

// InviteResponse carries a freshly generated invite code.
type InviteResponse struct {
	GroupID   string    `json:"group_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Mailed    int       `json:"mailed"`
}
