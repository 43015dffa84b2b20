package seeders

import (
	"testing"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/testutil"
	"halaqat_go/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedAllIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	opts := Options{SuperUsername: "root", SuperPassword: "changeme", Demo: true}

	require.NoError(t, SeedAll(db, opts))
	require.NoError(t, SeedAll(db, opts))

	var supers []models.User
	require.NoError(t, db.Where("role = ?", access.RoleSuperAdmin).Find(&supers).Error)
	require.Len(t, supers, 1)
	assert.Equal(t, "root", supers[0].Username)
	assert.NoError(t, utils.CheckPassword("changeme", supers[0].Password))

	var centers, halaqat, badges int64
	db.Model(&models.Center{}).Count(&centers)
	db.Model(&models.Halqa{}).Count(&halaqat)
	db.Model(&models.Badge{}).Count(&badges)
	assert.EqualValues(t, 1, centers)
	assert.EqualValues(t, 1, halaqat)
	assert.EqualValues(t, 2, badges)
}

func TestSeedSuperAdminRejectsShortPassword(t *testing.T) {
	db := testutil.NewDB(t)
	assert.Error(t, SeedSuperAdmin(db, "root", "123"))
}
