package services

import (
	"testing"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindClassifiesWrappedErrors(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "validation", Kind(errors.Wrap(invalid("x", "bad"), "outer")))
	assert.Equal(t, "not_found", Kind(notFound("student")))
	assert.Equal(t, "forbidden", Kind(forbidden("no")))
	assert.Equal(t, "conflict", Kind(conflict("twice")))
	assert.Equal(t, "internal", Kind(errors.New("boom")))

	res := ResultOf(nil, errors.New("db password leaked"))
	assert.False(t, res.Success)
	assert.Equal(t, "internal error", res.Error.Message)
}

func TestPrivilegedWhitelist(t *testing.T) {
	w := testutil.NewWorld(t)
	priv := NewPrivilegedService(w.DB)

	res := priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "users", Data: map[string]any{"username": "x"}})
	assert.Equal(t, "validation", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: "truncate", Table: "parents"})
	assert.Equal(t, "validation", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "parents", Data: map[string]any{"full_name": "x", "password": "y"}})
	require.False(t, res.Success)
	require.Len(t, res.Error.Fields, 1)
	assert.Equal(t, "password", res.Error.Fields[0].Field)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "centers", Data: map[string]any{"name": "x"}})
	assert.Equal(t, "forbidden", res.Error.Kind)

	res = priv.Execute(w.TeacherActor, PrivilegedRequest{Action: ActionInsert, Table: "parents", Data: map[string]any{"full_name": "x"}})
	assert.Equal(t, "forbidden", res.Error.Kind)
}

func TestPrivilegedInsertPinsCenter(t *testing.T) {
	w := testutil.NewWorld(t)
	other := w.NewCenter(t, "مركز آخر")
	priv := NewPrivilegedService(w.DB)

	res := priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "parents", Data: map[string]any{"full_name": "ولي"}})
	require.True(t, res.Success)
	p := res.Data.(*models.Parent)
	assert.Equal(t, w.Center.ID, p.CenterID)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "parents", Data: map[string]any{"full_name": "ولي", "center_id": other.ID}})
	assert.Equal(t, "forbidden", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "students", Data: map[string]any{"full_name": "طالب", "halqa_id": w.Halqa.ID}})
	require.True(t, res.Success)
	st := res.Data.(*models.Student)
	assert.Equal(t, w.Center.ID, st.CenterID)
	assert.True(t, st.IsActive)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "student_parents", Data: map[string]any{
		"student_id": st.ID, "parent_id": p.ID, "relationship": "mother",
	}})
	require.True(t, res.Success)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "student_parents", Data: map[string]any{
		"student_id": st.ID, "parent_id": p.ID, "relationship": "mother",
	}})
	assert.Equal(t, "conflict", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionInsert, Table: "catalog_items", Data: map[string]any{
		"name": "قلم", "scope": "student", "points_cost": -5,
	}})
	assert.Equal(t, "validation", res.Error.Kind)
}

func TestPrivilegedUpdateAndDeleteRespectCenters(t *testing.T) {
	w := testutil.NewWorld(t)
	other := w.NewCenter(t, "مركز آخر")
	foreignHalqa := w.NewHalqa(t, other.ID, nil, "حلقة بعيدة")
	st, _ := w.NewStudent(t, w.Halqa)
	p, _ := w.NewParent(t, w.Center.ID, st)
	priv := NewPrivilegedService(w.DB)

	res := priv.Execute(w.Admin, PrivilegedRequest{Action: ActionUpdate, Table: "halaqat", ID: foreignHalqa.ID, Data: map[string]any{"name": "x"}})
	assert.Equal(t, "not_found", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionUpdate, Table: "students", ID: st.ID, Data: map[string]any{"halqa_id": foreignHalqa.ID}})
	assert.Equal(t, "forbidden", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionUpdate, Table: "students", ID: st.ID, Data: map[string]any{"full_name": "اسم جديد"}})
	require.True(t, res.Success)
	var reloaded models.Student
	require.NoError(t, w.DB.First(&reloaded, st.ID).Error)
	assert.Equal(t, "اسم جديد", reloaded.FullName)

	res = priv.Execute(w.Super, PrivilegedRequest{Action: ActionUpdate, Table: "students", ID: st.ID, Data: map[string]any{"halqa_id": foreignHalqa.ID}})
	require.True(t, res.Success)
	require.NoError(t, w.DB.First(&reloaded, st.ID).Error)
	assert.Equal(t, other.ID, reloaded.CenterID)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionDelete, Table: "students", ID: st.ID})
	assert.Equal(t, "validation", res.Error.Kind)

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionDelete, Table: "halaqat", ID: w.Halqa.ID})
	require.True(t, res.Success, "halqa without students, reports or votes can be deleted")

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionDelete, Table: "parents", ID: p.ID})
	require.True(t, res.Success)
	var links int64
	require.NoError(t, w.DB.Model(&models.StudentParent{}).Where("parent_id = ?", p.ID).Count(&links).Error)
	assert.Zero(t, links)
}

func TestPrivilegedDeleteBlockedByDependents(t *testing.T) {
	w := testutil.NewWorld(t)
	w.NewStudent(t, w.Halqa)
	priv := NewPrivilegedService(w.DB)

	res := priv.Execute(w.Admin, PrivilegedRequest{Action: ActionDelete, Table: "halaqat", ID: w.Halqa.ID})
	assert.Equal(t, "conflict", res.Error.Kind)

	res = priv.Execute(w.Super, PrivilegedRequest{Action: ActionDelete, Table: "centers", ID: w.Center.ID})
	assert.Equal(t, "validation", res.Error.Kind)
}

func TestPrivilegedHalqaTeacherStaysInCenter(t *testing.T) {
	w := testutil.NewWorld(t)
	other := w.NewCenter(t, "مركز آخر")
	outsider, _ := w.NewTeacher(t, other.ID)
	local, _ := w.NewTeacher(t, w.Center.ID)
	priv := NewPrivilegedService(w.DB)

	res := priv.Execute(w.Admin, PrivilegedRequest{Action: ActionUpdate, Table: "halaqat", ID: w.Halqa.ID, Data: map[string]any{"teacher_id": outsider.ID}})
	require.False(t, res.Success)
	assert.Equal(t, "validation", res.Error.Kind)
	var reloaded models.Halqa
	require.NoError(t, w.DB.First(&reloaded, w.Halqa.ID).Error)
	require.NotNil(t, reloaded.TeacherID)
	assert.Equal(t, w.Teacher.ID, *reloaded.TeacherID)

	res = priv.Execute(w.Super, PrivilegedRequest{Action: ActionUpdate, Table: "halaqat", ID: w.Halqa.ID, Data: map[string]any{"center_id": other.ID}})
	assert.Equal(t, "validation", res.Error.Kind, "a moved halqa cannot keep a teacher from the old center")

	res = priv.Execute(w.Admin, PrivilegedRequest{Action: ActionUpdate, Table: "halaqat", ID: w.Halqa.ID, Data: map[string]any{"teacher_id": local.ID}})
	require.True(t, res.Success)
	require.NoError(t, w.DB.First(&reloaded, w.Halqa.ID).Error)
	assert.Equal(t, local.ID, *reloaded.TeacherID)
}
