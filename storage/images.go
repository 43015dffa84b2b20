package storage

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedImage is returned for uploads that are not jpeg, png, gif or webp.
var ErrUnsupportedImage = errors.New("unsupported image format")

const (
	MaxImageWidth  = 1024
	MaxImageHeight = 1024
	webpQuality    = 80
)

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUnsupportedImage
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if strings.Contains(http.DetectContentType(head), "webp") {
		return webp.Decode(bytes.NewReader(data))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedImage, err.Error())
	}
	return img, nil
}

// ToWebP decodes an image, shrinks it to fit maxW x maxH and re-encodes it as lossy WebP.
func ToWebP(data []byte, maxW, maxH int) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if (maxW > 0 && b.Dx() > maxW) || (maxH > 0 && b.Dy() > maxH) {
		img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}
	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return nil, errors.Wrap(err, "encode webp")
	}
	return buf.Bytes(), nil
}

// ImageUploader stores pictures as WebP objects.
type ImageUploader struct {
	store ObjectStore
	now   func() time.Time
}

func NewImageUploader(store ObjectStore) *ImageUploader {
	return &ImageUploader{store: store, now: time.Now}
}

// Upload converts data and stores it under folder/owner. It returns the public URL.
func (u *ImageUploader) Upload(ctx context.Context, folder string, owner uint, data []byte) (string, error) {
	out, err := ToWebP(data, MaxImageWidth, MaxImageHeight)
	if err != nil {
		return "", err
	}
	key := ObjectKey(folder, owner, "webp", u.now().UTC())
	if err := u.store.Put(ctx, key, out, "image/webp", true); err != nil {
		return "", err
	}
	return u.store.URL(key), nil
}

// Remove deletes the object behind a previously returned URL. Failures are only logged.
func (u *ImageUploader) Remove(ctx context.Context, url string) {
	if url == "" {
		return
	}
	key := u.store.KeyFromURL(url)
	if key == "" {
		return
	}
	if err := u.store.Delete(ctx, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("old image not deleted")
	}
}
