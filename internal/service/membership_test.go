package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

func membershipFixture(members ...models.GroupMember) Membership {
	return NewMembership(&models.Group{ID: "g1", Members: members})
}

func TestMembershipPermissions(t *testing.T) {
	m := membershipFixture(
		models.GroupMember{UserID: "admin", Role: models.GroupRoleAdmin},
		models.GroupMember{UserID: "mod", Role: models.GroupRoleModerator, Permissions: models.DefaultPermissions(models.GroupRoleModerator)},
		models.GroupMember{UserID: "member", Role: models.GroupRoleMember, Permissions: models.DefaultPermissions(models.GroupRoleMember)},
		models.GroupMember{UserID: "muted", Role: models.GroupRoleMember},
	)

	require.True(t, m.IsMember("member"))
	require.False(t, m.IsMember("stranger"))
	require.Equal(t, models.GroupRoleModerator, m.RoleOf("mod"))
	require.Equal(t, models.GroupRole(""), m.RoleOf("stranger"))

	require.True(t, m.HasPermission("admin", models.PermissionEditGroup))
	require.True(t, m.HasPermission("mod", models.PermissionRemoveMembers))
	require.False(t, m.HasPermission("mod", models.PermissionEditGroup))
	require.True(t, m.HasPermission("member", models.PermissionSendMessages))
	require.False(t, m.HasPermission("member", models.PermissionAddMembers))
	require.False(t, m.HasPermission("muted", models.PermissionSendMessages))
	require.False(t, m.HasPermission("stranger", models.PermissionSendMessages))
}

func TestMembershipRoleChangeKeepsAnAdmin(t *testing.T) {
	m := membershipFixture(
		models.GroupMember{UserID: "a1", Role: models.GroupRoleAdmin},
		models.GroupMember{UserID: "a2", Role: models.GroupRoleAdmin},
		models.GroupMember{UserID: "m1", Role: models.GroupRoleMember},
	)
	require.NoError(t, m.CheckRoleChange("a2", models.GroupRoleMember))

	single := membershipFixture(
		models.GroupMember{UserID: "a1", Role: models.GroupRoleAdmin},
		models.GroupMember{UserID: "m1", Role: models.GroupRoleMember},
	)
	require.ErrorIs(t, single.CheckRoleChange("a1", models.GroupRoleMember), ErrLastAdmin)
	require.ErrorIs(t, single.CheckRoleChange("a1", models.GroupRoleMember), ErrConflict)
	require.NoError(t, single.CheckRoleChange("m1", models.GroupRoleAdmin))
	require.ErrorIs(t, single.CheckRoleChange("ghost", models.GroupRoleAdmin), ErrNotAMember)
}

func TestMembershipRemoval(t *testing.T) {
	solo := membershipFixture(models.GroupMember{UserID: "a1", Role: models.GroupRoleAdmin})
	archive, err := solo.CheckRemoval("a1")
	require.NoError(t, err)
	require.True(t, archive)

	pair := membershipFixture(
		models.GroupMember{UserID: "a1", Role: models.GroupRoleAdmin},
		models.GroupMember{UserID: "m1", Role: models.GroupRoleMember},
	)
	_, err = pair.CheckRemoval("a1")
	require.ErrorIs(t, err, ErrLastAdmin)

	archive, err = pair.CheckRemoval("m1")
	require.NoError(t, err)
	require.False(t, archive)
}
