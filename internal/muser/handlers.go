package muser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

var errBadCredentials = utils.Unauthorized("invalid email or password")

// Handler serves accounts. With Keycloak set, credentials live in the
// realm and the store keeps a mirror of each account; otherwise passwords
// are bcrypt hashed locally and Tokens signs the access tokens.
type Handler struct {
	Store            store.Store
	Tokens           *authmw.TokenIssuer
	Keycloak         *authmw.KeycloakService
	AllowAdminSignup bool
	// SecureCookie marks the access_token cookie Secure.
	SecureCookie bool
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	if req.Role == "" {
		req.Role = store.RoleMember
	}
	if req.Role == store.RoleAdmin && !h.AllowAdminSignup {
		utils.RespondError(c, utils.Forbidden("admin signup is disabled"))
		return
	}

	req.Email = store.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		utils.RespondError(c, utils.BadRequest("validation failed", "name must not be blank"))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Store.GetUserByEmail(ctx, req.Email); err == nil {
		utils.RespondError(c, fmt.Errorf("email %s: %w", req.Email, store.ErrConflict))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		utils.RespondError(c, err)
		return
	}

	var (
		resp *AuthResponse
		err  error
	)
	if h.Keycloak != nil {
		resp, err = h.registerRemote(ctx, req)
	} else {
		resp, err = h.registerLocal(ctx, req)
	}
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	logger.InfoContext(ctx, "user registered", "user_id", resp.User.ID, "role", resp.User.Role)
	h.setTokenCookie(c, resp)
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) registerLocal(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &store.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := h.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return h.issue(u)
}

func (h *Handler) registerRemote(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if _, err := h.Keycloak.Register(ctx, req.Name, req.Email, req.Password, req.Role); err != nil {
		return nil, err
	}

	u := &store.User{Name: req.Name, Email: req.Email, Role: req.Role}
	if err := h.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	tok, err := h.Keycloak.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		User:        u,
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, err)
		return
	}

	var (
		resp *AuthResponse
		err  error
	)
	if h.Keycloak != nil {
		resp, err = h.loginRemote(c.Request.Context(), req)
	} else {
		resp, err = h.loginLocal(c.Request.Context(), req)
	}
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	h.setTokenCookie(c, resp)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) loginLocal(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := h.Store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, errBadCredentials
	}
	return h.issue(u)
}

func (h *Handler) loginRemote(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	tok, err := h.Keycloak.Login(ctx, req.Email, req.Password)
	if err != nil {
		logger.DebugContext(ctx, "keycloak login rejected", "error", err)
		return nil, errBadCredentials
	}

	id, err := h.Keycloak.Auth.Verify(tok.AccessToken)
	if err != nil {
		return nil, err
	}

	u, err := h.Store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		u = &store.User{Name: id.Name, Email: req.Email, Role: authmw.RoleFrom(id.Roles)}
		if u.Name == "" {
			u.Name = store.NormalizeEmail(req.Email)
		}
		err = h.Store.CreateUser(ctx, u)
	}
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:        u,
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func (h *Handler) issue(u *store.User) (*AuthResponse, error) {
	tok, exp, err := h.Tokens.Issue(*u)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: u, AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp}, nil
}

func (h *Handler) setTokenCookie(c *gin.Context, resp *AuthResponse) {
	maxAge := int(time.Until(resp.ExpiresAt).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authmw.AccessTokenCookie, resp.AccessToken, maxAge, "/", "", h.SecureCookie, true)
}

func (h *Handler) handleMe(c *gin.Context) {
	u, ok := authmw.CurrentUser(c)
	if !ok {
		utils.RespondError(c, utils.Unauthorized("unauthorized"))
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) handleListUsers(c *gin.Context) {
	var q ListUsersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, err)
		return
	}

	page := q.ToPage()
	users, total, err := h.Store.ListUsers(c.Request.Context(), store.UserFilter{Query: q.Q, Page: page})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, store.NewResult(users, total, page))
}
