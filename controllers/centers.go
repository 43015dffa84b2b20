package controllers

import (
	"halaqat_go/services"

	"github.com/gofiber/fiber/v2"
)

// DirectoryController serves centers, halaqat and teachers.
type DirectoryController struct {
	directory *services.DirectoryService
	uploads   *Uploads
}

func NewDirectoryController(directory *services.DirectoryService, uploads *Uploads) *DirectoryController {
	return &DirectoryController{directory: directory, uploads: uploads}
}

// ---- centers ----

func (dc *DirectoryController) ListCenters(c *fiber.Ctx) error {
	out, err := dc.directory.ListCenters(actor(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) GetCenter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.GetCenter(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) CreateCenter(c *fiber.Ctx) error {
	var in services.CenterInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.CreateCenter(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (dc *DirectoryController) UpdateCenter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.CenterInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.UpdateCenter(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) DeactivateCenter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := dc.directory.DeactivateCenter(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id, "is_active": false})
}

func (dc *DirectoryController) UploadCenterLogo(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	a := actor(c)
	return dc.uploads.replace(c, "centers", id, func(url string) (string, error) {
		return dc.directory.SetCenterLogo(a, id, url)
	})
}

// ---- halaqat ----

func (dc *DirectoryController) ListHalaqat(c *fiber.Ctx) error {
	out, err := dc.directory.ListHalaqat(actor(c), c.QueryBool("active", false))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) GetHalqa(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.GetHalqa(actor(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) CreateHalqa(c *fiber.Ctx) error {
	var in services.HalqaInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.CreateHalqa(actor(c), in)
	if err != nil {
		return fail(c, err)
	}
	return created(c, out)
}

func (dc *DirectoryController) UpdateHalqa(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var in services.HalqaInput
	if err := bind(c, &in); err != nil {
		return fail(c, err)
	}
	out, err := dc.directory.UpdateHalqa(actor(c), id, in)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, out)
}

func (dc *DirectoryController) DeactivateHalqa(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	if err := dc.directory.DeactivateHalqa(actor(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{"id": id, "is_active": false})
}
