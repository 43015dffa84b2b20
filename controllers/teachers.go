package controllers

import (
	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
)

func (dc *DirectoryController) ListTeachers(c *fiber.Ctx) error {
	out, err := dc.directory.ListTeachers(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) UpdateTeacher(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.TeacherInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.UpdateTeacher(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}
