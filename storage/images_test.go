package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.objects[key])), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) URL(key string) string { return "https://media.example.amazonaws.com/" + key }

func (m *memStore) KeyFromURL(url string) string {
	return strings.TrimPrefix(url, "https://media.example.amazonaws.com/")
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestToWebPShrinksLargeImages(t *testing.T) {
	out, err := ToWebP(pngOf(t, 2048, 1024), MaxImageWidth, MaxImageHeight)
	require.NoError(t, err)

	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestToWebPKeepsSmallImages(t *testing.T) {
	out, err := ToWebP(pngOf(t, 40, 30), MaxImageWidth, MaxImageHeight)
	require.NoError(t, err)

	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestToWebPRejectsOtherFiles(t *testing.T) {
	_, err := ToWebP([]byte("%PDF-1.4 not an image"), MaxImageWidth, MaxImageHeight)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = ToWebP(nil, MaxImageWidth, MaxImageHeight)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestUploaderStoresUnderGeneratedKey(t *testing.T) {
	store := newMemStore()
	up := NewImageUploader(store)
	up.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

	url, err := up.Upload(context.Background(), "students", 42, pngOf(t, 64, 64))
	require.NoError(t, err)

	key := store.KeyFromURL(url)
	assert.Regexp(t, regexp.MustCompile(`^students/42/2026/03/[0-9a-f-]{36}\.webp$`), key)
	assert.Contains(t, store.objects, key)

	up.Remove(context.Background(), url)
	assert.NotContains(t, store.objects, key)
}

func TestObjectKeyIsUnique(t *testing.T) {
	now := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	a := ObjectKey("centers", 1, "webp", now)
	b := ObjectKey("centers", 1, "webp", now)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "centers/1/2026/11/"))
}
