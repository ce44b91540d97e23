package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolePermissions(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermissionWriteLog))
	assert.False(t, HasPermission(RoleUser, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionReadLog))

	// 未知或空角色按普通用户处理
	assert.True(t, HasPermission("", PermissionReadStats))
	assert.False(t, HasPermission("root", PermissionRecomputeStats))
}

func TestCheckPermission(t *testing.T) {
	require.NoError(t, CheckPermission("u1", RoleAdmin, PermissionRecomputeStats))

	err := CheckPermission("u1", "", PermissionRecomputeStats)
	var denied *PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "u1", denied.UserID)
	assert.Equal(t, RoleUser, denied.Role)
	assert.Equal(t, PermissionRecomputeStats, denied.Permission)
}

func TestValidateUserIDInPayload(t *testing.T) {
	assert.NoError(t, ValidateUserIDInPayload("u1", ""))
	assert.NoError(t, ValidateUserIDInPayload("u1", "u1"))

	var mismatch *UserIDMismatchError
	assert.ErrorAs(t, ValidateUserIDInPayload("u1", "u2"), &mismatch)
}
