package rbac

// 权限常量
const (
	PermissionReadLog   = "log:read"
	PermissionWriteLog  = "log:write"
	PermissionReadStats = "stats:read"

	// 管理操作权限
	PermissionReplayOutbox   = "admin:outbox"
	PermissionRecomputeStats = "admin:stats"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var userPermissions = []string{
	PermissionReadLog,
	PermissionWriteLog,
	PermissionReadStats,
}

var rolePermissions = map[string][]string{
	RoleUser: userPermissions,
	RoleAdmin: append(append([]string{}, userPermissions...),
		PermissionReplayOutbox,
		PermissionRecomputeStats,
	),
}

// NormalizeRole maps an empty or unknown token role to the default user role.
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateUserIDInPayload rejects bodies that name a different user than the token.
func ValidateUserIDInPayload(tokenUserID, payloadUserID string) error {
	if payloadUserID != "" && payloadUserID != tokenUserID {
		return &UserIDMismatchError{
			TokenUserID:   tokenUserID,
			PayloadUserID: payloadUserID,
		}
	}
	return nil
}

// UserIDMismatchError 表示 user_id 不匹配的错误
type UserIDMismatchError struct {
	TokenUserID   string
	PayloadUserID string
}

func (e *UserIDMismatchError) Error() string {
	return "user_id in payload does not match token"
}
