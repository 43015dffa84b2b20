package controllers

import (
	"io"
	"strings"

	"halaqat_go/services"
	"halaqat_go/storage"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

// Uploads validates multipart images and swaps them in for an entity's current picture.
type Uploads struct {
	images  *storage.ImageUploader
	maxSize int64
	allowed []string
}

// NewUploads accepts a nil uploader; every upload then answers 503.
func NewUploads(images *storage.ImageUploader, maxSize int64, allowedExtensions string) *Uploads {
	var allowed []string
	for _, ext := range strings.Split(allowedExtensions, ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			allowed = append(allowed, ext)
		}
	}
	return &Uploads{images: images, maxSize: maxSize, allowed: allowed}
}

// replace stores the "file" form field under folder/owner, hands its URL to set and
// deletes whichever picture set reports as replaced.
func (u *Uploads) replace(c *fiber.Ctx, folder string, owner uint, set func(url string) (string, error)) error {
	if u == nil || u.images == nil {
		return utils.Fail(c, fiber.StatusServiceUnavailable, "unavailable", "object storage is not configured", nil)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, services.NewValidationError("file is required", services.FieldError{Field: "file", Error: "missing"}))
	}
	if u.maxSize > 0 && fh.Size > u.maxSize {
		return fail(c, services.NewValidationError("file too large", services.FieldError{Field: "file", Error: "exceeds size limit"}))
	}
	if !utils.IsValidFileExtension(fh.Filename, u.allowed) {
		return fail(c, services.NewValidationError("file type not allowed", services.FieldError{Field: "file", Error: "extension not allowed"}))
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, errors.Wrap(err, "open upload"))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fail(c, errors.Wrap(err, "read upload"))
	}

	url, err := u.images.Upload(c.UserContext(), folder, owner, data)
	if errors.Is(err, storage.ErrUnsupportedImage) {
		return fail(c, services.NewValidationError("file is not a supported image", services.FieldError{Field: "file", Error: "unsupported image"}))
	}
	if err != nil {
		return fail(c, err)
	}
	old, err := set(url)
	if err != nil {
		u.images.Remove(c.UserContext(), url)
		return fail(c, err)
	}
	u.images.Remove(c.UserContext(), old)
	return utils.Success(c, fiber.StatusOK, "Image uploaded", fiber.Map{"url": url})
}
