package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/response"
	"github.com/gatepass/backend/pkg/utils"
)

// Handler handles staff authentication endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid credentials")
		return
	}
	token, err := h.jwt.Generate(user.ID, user.Email, string(user.Role))
	if err != nil {
		h.logger.Error("generate jwt failed", zap.Error(err))
		response.Internal(c, "failed to issue token")
		return
	}
	response.OK(c, gin.H{"token": token, "user": user})
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role"`
}

// Register handles POST /auth/register. Creates a staff account (admin only;
// enforced by route middleware).
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := models.Role(req.Role)
	switch role {
	case models.RoleAdmin, models.RoleCounter, models.RoleScanner:
	case "":
		role = models.RoleCounter
	default:
		response.BadRequest(c, "invalid role")
		return
	}
	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.FullName, role)
	if err != nil {
		h.logger.Error("create user failed", zap.Error(err), zap.String("email", req.Email))
		response.Internal(c, "failed to create user")
		return
	}
	response.Created(c, user)
}

// List handles GET /users (admin only).
func (h *Handler) List(c *gin.Context) {
	users, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to load users")
		return
	}
	response.OK(c, users)
}
