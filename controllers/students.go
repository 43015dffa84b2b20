package controllers

import (
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
)

type linkRequest struct {
	ParentID     uint   `json:"parent_id" validate:"required"`
	Relationship string `json:"relationship" validate:"required"`
}

func (dc *DirectoryController) ListStudents(c *fiber.Ctx) error {
	f := services.StudentFilter{
		HalqaID:    queryUint(c, "halqa_id"),
		ActiveOnly: c.QueryBool("active", false),
		Search:     c.Query("search"),
		Pagination: pagination(c),
	}
	out, total, err := dc.directory.ListStudents(actor(c), f)
	if err != nil {
		return fail(c, err)
	}
	return utils.Page(c, out, pageMeta(f.Pagination, total))
}

func (dc *DirectoryController) GetStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.GetStudent(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) CreateStudent(c *fiber.Ctx) error {
	var in services.StudentInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.CreateStudent(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (dc *DirectoryController) UpdateStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.StudentInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.UpdateStudent(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) DeactivateStudent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := dc.directory.DeactivateStudent(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id, "is_active": false})
}

func (dc *DirectoryController) UploadStudentPhoto(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	a := actor(c)
	return dc.uploads.replace(c, "students", id, func(url string) (string, error) {
		return dc.directory.SetStudentPhoto(a, id, url)
	})
}

func (dc *DirectoryController) LinkParent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req linkRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.Link(actor(c), id, req.ParentID, req.Relationship)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (dc *DirectoryController) UnlinkParent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	parentID, err := paramID(c, "parent_id")
	if err != nil {
		return fail(c, err)
	}
	if err := dc.directory.Unlink(actor(c), id, parentID); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"student_id": id, "parent_id": parentID})
}

// ---- parents ----

func (dc *DirectoryController) ListParents(c *fiber.Ctx) error {
	out, err := dc.directory.ListParents(actor(c), pagination(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) CreateParent(c *fiber.Ctx) error {
	var in services.ParentInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.CreateParent(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (dc *DirectoryController) UpdateParent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.ParentInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.UpdateParent(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) DeleteParent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := dc.directory.DeleteParent(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id})
}

func (dc *DirectoryController) Children(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.Children(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}
