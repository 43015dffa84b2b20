package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanName(t *testing.T) {
	assert.Equal(t, "عبد الله محمد", CleanName("  عبد\tالله   محمد\x00 "))
	assert.Equal(t, "", CleanName("   "))
}

func TestIsValidFileExtension(t *testing.T) {
	allowed := []string{"jpg", " PNG ", "webp"}
	assert.True(t, IsValidFileExtension("photo.JPG", allowed))
	assert.True(t, IsValidFileExtension("a.b.png", allowed))
	assert.False(t, IsValidFileExtension("script.exe", allowed))
	assert.False(t, IsValidFileExtension("noext", allowed))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("secret123")
	assert.NoError(t, err)
	assert.NoError(t, CheckPassword("secret123", hash))
	assert.Error(t, CheckPassword("secret124", hash))
}
