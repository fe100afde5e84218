package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// Roles carried in the JWT role claim.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// GraderRoles may submit batches and read evaluation runs.
var GraderRoles = []string{RoleTeacher, RoleAdmin}

// RequireRole lets a request through only when its role is one of roles. A request
// without any role is unauthenticated rather than forbidden.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	accepted := make([]string, 0, len(roles))
	for _, role := range roles {
		normalized := normalizeRoleValue(role)
		if normalized == "" {
			continue
		}
		if _, dup := allowed[normalized]; !dup {
			allowed[normalized] = struct{}{}
			accepted = append(accepted, normalized)
		}
	}

	return func(c *fiber.Ctx) error {
		role := normalizeRoleValue(c.Locals("user_role"))
		if role == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{
				"role":           role,
				"required_roles": accepted,
			})
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
