package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GroupRole is the role a member holds inside a group.
type GroupRole string

const (
	GroupRoleAdmin     GroupRole = "admin"
	GroupRoleModerator GroupRole = "moderator"
	GroupRoleMember    GroupRole = "member"
)

// Valid reports whether the role is one of the known roles.
func (r GroupRole) Valid() bool {
	switch r {
	case GroupRoleAdmin, GroupRoleModerator, GroupRoleMember:
		return true
	default:
		return false
	}
}

// Group permissions. Admins implicitly hold all of them.
const (
	PermissionSendMessages  = "send_messages"
	PermissionAddMembers    = "add_members"
	PermissionRemoveMembers = "remove_members"
	PermissionEditGroup     = "edit_group"
	PermissionManageInvites = "manage_invites"
)

// Group privacy and invite policy settings.
const (
	GroupPrivacyPrivate    = "private"
	GroupPrivacyPublic     = "public"
	InvitePolicyAdmins     = "admins"
	InvitePolicyAllMembers = "members"
)

// DefaultPermissions returns the permission set granted to a role on join or role change.
func DefaultPermissions(role GroupRole) []string {
	switch role {
	case GroupRoleAdmin:
		return []string{PermissionSendMessages, PermissionAddMembers, PermissionRemoveMembers, PermissionEditGroup, PermissionManageInvites}
	case GroupRoleModerator:
		return []string{PermissionSendMessages, PermissionAddMembers, PermissionRemoveMembers, PermissionManageInvites}
	default:
		return []string{PermissionSendMessages}
	}
}

// Group is a multi-member conversation with role-based membership.
type Group struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	Name            string        `gorm:"size:100;not null" json:"name"`
	Description     string        `gorm:"size:500" json:"description"`
	AvatarURL       string        `gorm:"size:512" json:"avatar_url"`
	CreatedBy       string        `gorm:"size:64;not null;index" json:"created_by"`
	Privacy         string        `gorm:"size:16;not null;default:private" json:"privacy"`
	InvitePolicy    string        `gorm:"size:16;not null;default:admins" json:"invite_policy"`
	LastMessageID   *string       `gorm:"size:36" json:"last_message_id,omitempty"`
	LastActivity    time.Time     `gorm:"index" json:"last_activity"`
	MessageCount    int64         `gorm:"not null;default:0" json:"message_count"`
	InviteCode      *string       `gorm:"size:16;uniqueIndex" json:"invite_code,omitempty"`
	InviteExpiresAt *time.Time    `json:"invite_expires_at,omitempty"`
	Archived        bool          `gorm:"not null;default:false;index" json:"archived"`
	Members         []GroupMember `gorm:"foreignKey:GroupID" json:"members"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// GroupMember links a user to a group with a role and explicit permissions.
type GroupMember struct {
	ID          uint                        `gorm:"primaryKey" json:"-"`
	GroupID     string                      `gorm:"size:36;not null;uniqueIndex:idx_group_member" json:"group_id"`
	UserID      string                      `gorm:"size:64;not null;uniqueIndex:idx_group_member;index" json:"user_id"`
	Role        GroupRole                   `gorm:"size:16;not null;default:member" json:"role"`
	Permissions datatypes.JSONSlice[string] `json:"permissions"`
	JoinedAt    time.Time                   `json:"joined_at"`
}
