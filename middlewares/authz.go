package middlewares

import (
	"github.com/riftlabs/dispatch"
)

// AuthorizationReason names why an Authorization error was raised.
type AuthorizationReason string

// Authorization reasons.
const (
	ReasonInsufficientPermissions AuthorizationReason = "InsufficientPermissions"
	ReasonInvalidCredentials      AuthorizationReason = "InvalidCredentials"
)

type authzError struct {
	reason AuthorizationReason
	detail string
}

func (e authzError) Error() string { return string(e.reason) + ": " + e.detail }

// RoleLookup resolves the roles held by a user id. Implementations
// typically consult a cache, database, or upstream identity service.
type RoleLookup func(userID string) ([]string, error)

// Authorization requires that the caller identified in the context's
// metadata holds at least one of a required set of roles, per spec.md
// §4.8. The user id is read from dispatch.Metadata.UserID, matching the
// teacher's own convention of carrying caller identity in request
// metadata (see header.go's reserved caller/service headers).
type Authorization struct {
	lookup        RoleLookup
	requiredRoles map[string]struct{}
}

// NewAuthorization constructs the authorization middleware, requiring the
// caller to hold at least one of requiredRoles.
func NewAuthorization(lookup RoleLookup, requiredRoles ...string) Authorization {
	set := make(map[string]struct{}, len(requiredRoles))
	for _, r := range requiredRoles {
		set[r] = struct{}{}
	}
	return Authorization{lookup: lookup, requiredRoles: set}
}

// Priority implements dispatch.Middleware.
func (Authorization) Priority() dispatch.Priority { return dispatch.PriorityAuthentication }

// Execute implements dispatch.Middleware.
func (a Authorization) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	userID := ctx.Metadata().UserID
	if userID == "" {
		return nil, dispatch.Wrap(dispatch.KindAuthorization, "missing caller identity",
			authzError{reason: ReasonInvalidCredentials, detail: "no user id in metadata"})
	}

	roles, err := a.lookup(userID)
	if err != nil {
		return nil, dispatch.Wrap(dispatch.KindAuthorization, "role lookup failed",
			authzError{reason: ReasonInvalidCredentials, detail: err.Error()})
	}

	if len(a.requiredRoles) == 0 {
		return next(cmd)
	}
	for _, r := range roles {
		if _, ok := a.requiredRoles[r]; ok {
			return next(cmd)
		}
	}
	return nil, dispatch.Wrap(dispatch.KindAuthorization, "caller lacks a required role",
		authzError{reason: ReasonInsufficientPermissions, detail: userID})
}
