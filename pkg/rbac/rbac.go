package rbac

const (
	PermissionEnqueueEmail  = "email:enqueue"
	PermissionReadEmailJob  = "email_job:read"
	PermissionRetryEmailJob = "email_job:retry"
	PermissionReadStats     = "email_stats:read"
	PermissionDispatch      = "email:dispatch"
)

const (
	RoleUser = "user"
	// RoleService is used by the enrollment application's backend.
	RoleService = "service"
	RoleAdmin   = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadEmailJob,
	},
	RoleService: {
		PermissionEnqueueEmail,
		PermissionReadEmailJob,
		PermissionDispatch,
	},
	RoleAdmin: {
		PermissionEnqueueEmail,
		PermissionReadEmailJob,
		PermissionRetryEmailJob,
		PermissionReadStats,
		PermissionDispatch,
	},
}

func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission is HasPermission returning an error.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError reports a role lacking a permission.
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateUserID rejects a payload user id that differs from the token's,
// unless the role may act for other users.
func ValidateUserID(role, tokenUserID, payloadUserID string) error {
	if role == RoleAdmin || role == RoleService {
		return nil
	}
	if payloadUserID != tokenUserID {
		return &UserIDMismatchError{
			TokenUserID:   tokenUserID,
			PayloadUserID: payloadUserID,
		}
	}
	return nil
}

type UserIDMismatchError struct {
	TokenUserID   string
	PayloadUserID string
}

func (e *UserIDMismatchError) Error() string {
	return "user_id in payload does not match token"
}
