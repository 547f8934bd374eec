package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/patrimonio/internal/model"
)

func TestRolePermissionMatrix(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)

	want := map[string][]string{
		model.RoleAdmin:   {"create", "delete", "manage_users", "read", "report", "update"},
		model.RoleManager: {"create", "delete", "read", "report", "update"},
		model.RoleUser:    {"create", "read", "update"},
		model.RoleViewer:  {"read"},
	}
	for role, perms := range want {
		assert.Equal(t, perms, e.Permissions(role), "role %s", role)
	}
}

func TestCan(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)

	assert.True(t, e.Can(model.RoleViewer, "equipment", ActionRead))
	assert.False(t, e.Can(model.RoleViewer, "equipment", ActionCreate))
	assert.True(t, e.Can(model.RoleUser, "loans", ActionUpdate))
	assert.False(t, e.Can(model.RoleUser, "loans", ActionDelete))
	assert.True(t, e.Can(model.RoleManager, "backups", ActionDelete))
	assert.False(t, e.Can(model.RoleManager, "users", ActionManageUsers))
	assert.True(t, e.Can(model.RoleAdmin, "users", ActionManageUsers))
	assert.True(t, e.Can(model.RoleManager, "reports", ActionReport))
	assert.False(t, e.Can(model.RoleUser, "reports", ActionReport))
}

func TestUnknownRoleDenied(t *testing.T) {
	e, err := NewEnforcer()
	require.NoError(t, err)

	for _, action := range Actions {
		assert.False(t, e.Can("INTRUSO", "equipment", action), action)
		assert.False(t, e.Can("", "equipment", action), action)
	}
	assert.Empty(t, e.Permissions("INTRUSO"))
}
