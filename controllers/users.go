package controllers

import (
	"halaqat_go/access"
	"halaqat_go/middleware"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

// AccountController manages logins: provisioning, staff accounts, status and password resets.
type AccountController struct {
	accounts *services.AccountService
	activity *middleware.ActivityLogger
}

func NewAccountController(accounts *services.AccountService, activity *middleware.ActivityLogger) *AccountController {
	return &AccountController{accounts: accounts, activity: activity}
}

type statusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// ProvisionStudent creates a student, a parent and both logins. The response carries the
// plain passwords; they are never returned again.
func (ac *AccountController) ProvisionStudent(c *fiber.Ctx) error {
	var in services.ProvisionInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := ac.accounts.ProvisionStudentWithParent(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	ac.activity.Log(c, "PROVISION", "students", out.Student.ID, map[string]any{"parent_id": out.Parent.ID})
	return utils.Success(c, fiber.StatusCreated, "Accounts created", out)
}

func (ac *AccountController) CreateStaff(c *fiber.Ctx) error {
	var in services.StaffInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	u, err := ac.accounts.CreateStaffAccount(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, u)
}

func (ac *AccountController) SetStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	u, err := ac.accounts.SetAccountStatus(actor(c), id, *req.Enabled)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, u)
}

func (ac *AccountController) ResetPassword(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req resetPasswordRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := ac.accounts.ResetPassword(actor(c), id, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return utils.Success(c, fiber.StatusOK, "Password reset successfully", nil)
}

func (ac *AccountController) List(c *fiber.Ctx) error {
	f := services.UserFilter{
		Role:       access.Role(c.Query("role")),
		Status:     c.Query("status"),
		Search:     c.Query("search"),
		Pagination: pagination(c),
	}
	users, total, err := ac.accounts.ListUsers(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, users, pageMeta(f.Pagination, total))
}
