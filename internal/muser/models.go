package muser

import (
	"time"

	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

type RegisterRequest struct {
	Name     string     `json:"name" binding:"required,min=1,max=100"`
	Email    string     `json:"email" binding:"required,email,max=254"`
	Password string     `json:"password" binding:"required,min=8,max=72"`
	Role     store.Role `json:"role" binding:"omitempty,oneof=admin member"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	User        *store.User `json:"user"`
	AccessToken string      `json:"accessToken"`
	TokenType   string      `json:"tokenType"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

type ListUsersQuery struct {
	Q string `form:"q" binding:"max=100"`
	utils.PageQuery
}
