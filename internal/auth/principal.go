package auth

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/repository"
	apperrors "github.com/erp-suite/ticketflow/pkg/util/errorutil"
)

const principalKey = "principal"

// HeaderUserID identifies the caller. Session and token verification is
// owned by the gateway in front of this service; this middleware only
// resolves the already-authenticated identity to a user record. The
// client is not a trust boundary: every capability decision is made
// server-side from this principal, never from client input.
const HeaderUserID = "X-User-ID"

// PrincipalMiddleware resolves the request principal.
type PrincipalMiddleware struct {
	users repository.UserRepository
}

// NewPrincipalMiddleware constructs the middleware.
func NewPrincipalMiddleware(users repository.UserRepository) *PrincipalMiddleware {
	return &PrincipalMiddleware{users: users}
}

// Handle loads the user named by the identity header and stores it in
// the request context.
func (m *PrincipalMiddleware) Handle(c *fiber.Ctx) error {
	raw := c.Get(HeaderUserID)
	if raw == "" {
		return apperrors.NewUnauthorized("missing identity header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return apperrors.NewUnauthorized("invalid identity header")
	}

	user, err := m.users.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("unknown user")
		}
		return apperrors.MapError(err)
	}
	if !user.IsActive {
		return apperrors.NewUnauthorized("user inactive")
	}

	c.Locals(principalKey, user)
	return c.Next()
}

// PrincipalFromContext returns the resolved user for the request.
func PrincipalFromContext(c *fiber.Ctx) (*domain.User, bool) {
	user, ok := c.Locals(principalKey).(*domain.User)
	return user, ok
}
