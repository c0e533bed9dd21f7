package rbac

import "slices"

// 权限常量
const (
	// 普通用户操作
	PermissionReadNotifications  = "notification:read"
	PermissionWriteNotifications = "notification:write"
	PermissionManageReminders    = "reminder:manage"
	PermissionSendLoveNotes      = "love_note:send"

	// 管理员操作
	PermissionReadDeadLetters   = "deadletter:read"
	PermissionReplayDeadLetters = "deadletter:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var userPermissions = []string{
	PermissionReadNotifications,
	PermissionWriteNotifications,
	PermissionManageReminders,
	PermissionSendLoveNotes,
}

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: userPermissions,
	RoleAdmin: append(slices.Clone(userPermissions),
		PermissionReadDeadLetters,
		PermissionReplayDeadLetters,
	),
}

// NormalizeRole maps an empty role claim to RoleUser.
func NormalizeRole(role string) string {
	if role == "" {
		return RoleUser
	}
	return role
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[NormalizeRole(role)]
	if !ok {
		return false
	}
	return slices.Contains(permissions, permission)
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
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
