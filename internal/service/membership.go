package service

import "github.com/noah-isme/gema-chat-api/internal/models"

// Membership answers membership and permission questions over a group's persisted
// member list. It never mutates the group.
type Membership struct {
	group *models.Group
}

// NewMembership wraps a loaded group.
func NewMembership(group *models.Group) Membership {
	return Membership{group: group}
}

// Member returns the member entry for userID.
func (m Membership) Member(userID string) (models.GroupMember, bool) {
	if m.group == nil {
		return models.GroupMember{}, false
	}
	for _, member := range m.group.Members {
		if member.UserID == userID {
			return member, true
		}
	}
	return models.GroupMember{}, false
}

// IsMember reports whether userID belongs to the group.
func (m Membership) IsMember(userID string) bool {
	_, ok := m.Member(userID)
	return ok
}

// RoleOf returns the member's role, or an empty role for non-members.
func (m Membership) RoleOf(userID string) models.GroupRole {
	member, ok := m.Member(userID)
	if !ok {
		return ""
	}
	return member.Role
}

// HasPermission reports whether userID holds permission. Admins hold every permission.
func (m Membership) HasPermission(userID, permission string) bool {
	member, ok := m.Member(userID)
	if !ok {
		return false
	}
	if member.Role == models.GroupRoleAdmin {
		return true
	}
	for _, granted := range member.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// AdminCount counts members holding the admin role.
func (m Membership) AdminCount() int {
	if m.group == nil {
		return 0
	}
	count := 0
	for _, member := range m.group.Members {
		if member.Role == models.GroupRoleAdmin {
			count++
		}
	}
	return count
}

// MemberCount returns the number of members.
func (m Membership) MemberCount() int {
	if m.group == nil {
		return 0
	}
	return len(m.group.Members)
}

// CheckRemoval validates removing userID from the group, whether by an actor or by leaving.
// It reports archive=true when userID is the final member.
func (m Membership) CheckRemoval(userID string) (archive bool, err error) {
	member, ok := m.Member(userID)
	if !ok {
		return false, ErrNotAMember
	}
	if m.MemberCount() == 1 {
		return true, nil
	}
	if member.Role == models.GroupRoleAdmin && m.AdminCount() == 1 {
		return false, ErrLastAdmin
	}
	return false, nil
}

// CheckRoleChange validates changing userID to role.
func (m Membership) CheckRoleChange(userID string, role models.GroupRole) error {
	member, ok := m.Member(userID)
	if !ok {
		return ErrNotAMember
	}
	if member.Role == models.GroupRoleAdmin && role != models.GroupRoleAdmin && m.AdminCount() == 1 {
		return ErrLastAdmin
	}
	return nil
}
