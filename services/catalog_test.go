package services

import (
	"testing"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogItemRules(t *testing.T) {
	w := testutil.NewWorld(t)
	catalog := NewCatalogService(w.DB)

	_, err := catalog.Create(w.Admin, CatalogItemInput{Scope: models.ScopeGroup, PointsCost: -1, BadgesCost: 2})
	assert.Equal(t, "validation", Kind(err))
	assert.Len(t, FieldsOf(err), 3)

	_, err = catalog.Create(w.TeacherActor, CatalogItemInput{Name: "قلم", Scope: models.ScopeStudent})
	assert.Equal(t, "forbidden", Kind(err))

	local, err := catalog.Create(w.Admin, CatalogItemInput{Name: "قلم", Scope: models.ScopeStudent, PointsCost: 5})
	require.NoError(t, err)
	assert.Equal(t, w.Center.ID, *local.CenterID)
	assert.True(t, local.IsActive)

	global, err := catalog.Create(w.Super, CatalogItemInput{Name: "رحلة", Scope: models.ScopeGroup, PointsCost: 100})
	require.NoError(t, err)
	assert.Nil(t, global.CenterID)

	_, err = catalog.Update(w.Admin, global.ID, CatalogItemInput{Name: "x", Scope: models.ScopeGroup})
	assert.Equal(t, "forbidden", Kind(err))

	other := w.NewCenter(t, "مركز آخر")
	foreignAdmin := w.StaffActor(t, access.RoleCenterAdmin, other.ID)
	_, err = catalog.Get(foreignAdmin, local.ID)
	assert.Equal(t, "not_found", Kind(err))

	require.NoError(t, catalog.Deactivate(w.Admin, local.ID))
	_, stActor := w.NewStudent(t, w.Halqa)
	items, total, err := catalog.List(stActor, CatalogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, global.ID, items[0].ID)

	_, total, err = catalog.List(w.Admin, CatalogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	old, err := catalog.SetImage(w.Admin, local.ID, "https://cdn/pen.webp")
	require.NoError(t, err)
	assert.Empty(t, old)
}
