package controllers

import (
	"time"

	"halaqat_go/middleware"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

type AuthController struct {
	accounts *services.AccountService
	auth     *middleware.Auth
	activity *middleware.ActivityLogger
}

func NewAuthController(accounts *services.AccountService, auth *middleware.Auth, activity *middleware.ActivityLogger) *AuthController {
	return &AuthController{accounts: accounts, auth: auth, activity: activity}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	user, act, err := ac.accounts.Login(req.Username, req.Password)
	if errors.Is(err, services.ErrBadCredentials) {
		return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "invalid username or password", nil)
	}
	if err != nil {
		return fail(c, err)
	}
	token, expires, err := ac.auth.GenerateToken(user)
	if err != nil {
		return fail(c, errors.Wrap(err, "sign token"))
	}
	c.Locals("actor", act)
	ac.activity.Log(c, "LOGIN", "auth", user.ID, map[string]any{"username": user.Username, "role": user.Role})

	return utils.Success(c, fiber.StatusOK, "Login successful", fiber.Map{
		"token":      token,
		"expires_at": expires,
		"user":       utils.ToUserShort(*user),
		"actor":      act,
	})
}

// Logout invalidates the current JWT until it would have expired.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	ttl := ac.auth.TTL()
	if claims, err := middleware.GetCurrentClaims(c); err == nil && claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := ac.accounts.Logout(c.UserContext(), middleware.CurrentToken(c), ttl); err != nil {
		return fail(c, err)
	}
	ac.activity.Log(c, "LOGOUT", "auth", actor(c).UserID, nil)
	return utils.Success(c, fiber.StatusOK, "Logged out successfully", nil)
}

func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	p, err := ac.accounts.Profile(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, p)
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := ac.accounts.ChangePassword(actor(c), req.CurrentPassword, req.NewPassword); err != nil {
		return fail(c, err)
	}
	ac.activity.Log(c, "CHANGE_PASSWORD", "auth", actor(c).UserID, nil)
	return utils.Success(c, fiber.StatusOK, "Password changed successfully", nil)
}
