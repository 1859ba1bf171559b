package muser

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
)

// Routes mounts register and login on public, the rest on authed.
func (h *Handler) Routes(public, authed *gin.RouterGroup) {
	auth := public.Group("/auth")
	{
		auth.POST("/register", h.handleRegister)
		auth.POST("/login", h.handleLogin)
	}

	authed.GET("/auth/me", h.handleMe)
	authed.GET("/users", h.handleListUsers)
}

// EnsureAdmin creates the bootstrap admin unless an account with email
// already exists. An empty password stores no hash, leaving the account
// to an external identity provider.
func EnsureAdmin(ctx context.Context, st store.Store, name, email, password string) (*store.User, error) {
	u, err := st.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if name == "" {
		name = "Administrator"
	}
	u = &store.User{Name: name, Email: email, Role: store.RoleAdmin}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = string(hash)
	}

	if err := st.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	logger.Info("seeded admin account", "email", u.Email, "user_id", u.ID)
	return u, nil
}
