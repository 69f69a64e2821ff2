package handler

import (
	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

type registerRequest struct {
	Email          string `json:"email"          validate:"required,email,max=254"`
	Password       string `json:"password"       validate:"required,min=8,max=72"`
	Name           string `json:"name"           validate:"required,max=100"`
	Role           string `json:"role"           validate:"required,oneof=COACH ATHLETE"`
	InvitationCode string `json:"invitationCode" validate:"omitempty,len=6"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterPublic sets up the unauthenticated auth routes.
func (h *AuthHandler) RegisterPublic(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/register", h.SignUp)
	auth.Post("/login", h.Login)
}

// Register sets up the authenticated auth routes.
func (h *AuthHandler) Register(router fiber.Router) {
	router.Get("/auth/me", h.Me)
}

// SignUp creates an account and returns a session.
func (h *AuthHandler) SignUp(c fiber.Ctx) error {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := h.authService.Register(c.Context(), service.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		Role:           domain.Role(req.Role),
		InvitationCode: req.InvitationCode,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Login exchanges credentials for a session.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	res, err := h.authService.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// Me returns the caller's account.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := h.authService.Me(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
