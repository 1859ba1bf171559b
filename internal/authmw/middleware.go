package authmw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
)

const (
	ctxUser = "auth.user"

	// AccessTokenCookie is read when no Authorization header is sent.
	AccessTokenCookie = "access_token"
)

// UserStore is the part of store.Store needed to resolve token bearers.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, u *store.User) error
}

// Authenticator turns a verified token into the acting store.User.
// Tokens from an external provider are matched by email; Provision
// creates the local account on first sight.
type Authenticator struct {
	Verifier  Verifier
	Users     UserStore
	Provision bool
}

func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := extractAccessToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		id, err := a.Verifier.Verify(tokenStr)
		if err != nil {
			logger.DebugContext(c.Request.Context(), "token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		u, err := a.resolve(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "failed to resolve user", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(ctxUser, u)
		c.Next()
	}
}

func (a *Authenticator) resolve(ctx context.Context, id *Identity) (*store.User, error) {
	if id.Local {
		return a.Users.GetUserByID(ctx, id.Subject)
	}
	if id.Email == "" {
		return nil, store.ErrNotFound
	}

	u, err := a.Users.GetUserByEmail(ctx, id.Email)
	if err == nil || !errors.Is(err, store.ErrNotFound) || !a.Provision {
		return u, err
	}

	u = &store.User{
		Name:  id.Name,
		Email: id.Email,
		Role:  RoleFrom(id.Roles),
	}
	if u.Name == "" {
		u.Name = id.Email
	}
	if err := a.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// provisioned by a concurrent request
			return a.Users.GetUserByEmail(ctx, id.Email)
		}
		return nil, err
	}
	logger.InfoContext(ctx, "provisioned user from identity provider", "email", u.Email, "role", u.Role)
	return u, nil
}

// RequireRoles must run after RequireAuth.
func RequireRoles(anyOf ...store.Role) gin.HandlerFunc {
	want := make([]string, 0, len(anyOf))
	for _, r := range anyOf {
		want = append(want, string(r))
	}

	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !hasAnyRole([]string{string(u.Role)}, want...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c *gin.Context) (*store.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*store.User)
	return u, ok && u != nil
}

// RoleFrom maps provider roles onto the tracker's two roles.
func RoleFrom(roles []string) store.Role {
	if hasAnyRole(roles, string(store.RoleAdmin)) {
		return store.RoleAdmin
	}
	return store.RoleMember
}

// --- helpers ---

func extractAccessToken(c *gin.Context) (string, error) {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		if tok := strings.TrimSpace(authz[7:]); tok != "" {
			return tok, nil
		}
	}

	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie, nil
	}

	return "", errors.New("missing access token")
}

func hasAnyRole(userRoles []string, anyOf ...string) bool {
	roleSet := make(map[string]struct{}, len(userRoles))
	for _, r := range userRoles {
		roleSet[r] = struct{}{}
	}
	for _, required := range anyOf {
		if _, ok := roleSet[required]; ok {
			return true
		}
	}
	return false
}

func uniq(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
