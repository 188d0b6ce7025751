package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"enom_tracker/middleware"
	"enom_tracker/services"
)

// AuthAPI выдача токенов и смена пароля
type AuthAPI struct {
	users  *services.UserService
	tokens *middleware.TokenIssuer
	logger *zap.Logger
}

func NewAuthAPI(users *services.UserService, tokens *middleware.TokenIssuer, logger *zap.Logger) *AuthAPI {
	return &AuthAPI{users: users, tokens: tokens, logger: logger}
}

// LoginRequest запрос токена
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IssueToken проверяет пароль и выдает токен
// POST /api/auth/token
func (api *AuthAPI) IssueToken(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid username or password")
		return
	}

	user, err := api.users.Authenticate(req.Username, req.Password)
	if err != nil {
		api.logger.Info("token request denied", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		respondError(c, err)
		return
	}

	token, expires, err := api.tokens.Issue(user)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

// ChangePasswordRequest запрос смены пароля
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword меняет пароль текущего пользователя
// POST /api/auth/password
func (api *AuthAPI) ChangePassword(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	if err := api.users.ChangePassword(actor.ID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Пароль изменен"})
}

// Me текущий пользователь
// GET /api/auth/me
func (api *AuthAPI) Me(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	user, err := api.users.GetUser(actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, user)
}

// ListTechnicians инженеры для назначения
// GET /api/users/technicians
func (api *AuthAPI) ListTechnicians(c *gin.Context) {
	users, err := api.users.ListTechnicians()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, users)
}

// CreateUser создает учетную запись (диспетчер)
// POST /api/users
func (api *AuthAPI) CreateUser(c *gin.Context) {
	var input services.CreateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	user, err := api.users.CreateUser(input)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, user)
}
