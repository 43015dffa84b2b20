package services

import (
	"testing"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []notifications.Payload
	to   [][]uint
}

func (r *recordingNotifier) EnqueueOrCreate(userIDs []uint, n notifications.Payload) error {
	r.sent = append(r.sent, n)
	r.to = append(r.to, userIDs)
	return nil
}

func TestBalanceDerivedFromEntries(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	ledger := NewLedgerService(w.DB)

	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 50)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyBadges, 2)
	require.NoError(t, w.DB.Create(&models.LedgerEntry{
		SubjectType: models.SubjectStudent, SubjectID: st.ID, Currency: models.CurrencyPoints,
		Kind: models.EntrySpend, Delta: -20, Reason: "test",
	}).Error)

	b, err := ledger.Balance(stActor, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, b.AvailablePoints)
	assert.Equal(t, 50, b.TotalPoints)
	assert.Equal(t, 2, b.AvailableBadges)
}

func TestBalanceHiddenFromOtherStudents(t *testing.T) {
	w := testutil.NewWorld(t)
	st, _ := w.NewStudent(t, w.Halqa)
	_, other := w.NewStudent(t, w.Halqa)

	_, err := NewLedgerService(w.DB).Balance(other, st.ID)
	assert.Equal(t, "forbidden", Kind(err))
}

func TestParentSeesLinkedChildBalance(t *testing.T) {
	w := testutil.NewWorld(t)
	st, _ := w.NewStudent(t, w.Halqa)
	_, parent := w.NewParent(t, w.Center.ID, st)

	_, err := NewLedgerService(w.DB).Balance(parent, st.ID)
	assert.NoError(t, err)
}

func TestGrantRejectsNegativeBalance(t *testing.T) {
	w := testutil.NewWorld(t)
	st, _ := w.NewStudent(t, w.Halqa)
	ledger := NewLedgerService(w.DB)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 10)

	_, err := ledger.Grant(w.Admin, GrantInput{SubjectType: models.SubjectStudent, SubjectID: st.ID, Delta: -11, Reason: "fix"})
	assert.Equal(t, "validation", Kind(err))

	entry, err := ledger.Grant(w.Admin, GrantInput{SubjectType: models.SubjectStudent, SubjectID: st.ID, Delta: -10, Reason: "fix"})
	require.NoError(t, err)
	assert.Equal(t, models.EntryAdjust, entry.Kind)
	assert.Equal(t, models.CurrencyPoints, entry.Currency)

	points, err := ledger.AvailablePoints(st.ID)
	require.NoError(t, err)
	assert.Zero(t, points)
}

func TestGrantNeedsSameCenterStaff(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	other := w.NewCenter(t, "مركز آخر")
	outsider := w.StaffActor(t, access.RoleCenterAdmin, other.ID)
	ledger := NewLedgerService(w.DB)
	in := GrantInput{SubjectType: models.SubjectStudent, SubjectID: st.ID, Delta: 5, Reason: "bonus"}

	_, err := ledger.Grant(outsider, in)
	assert.Equal(t, "forbidden", Kind(err))
	_, err = ledger.Grant(stActor, in)
	assert.Equal(t, "forbidden", Kind(err))
	_, err = ledger.Grant(w.TeacherActor, in)
	assert.NoError(t, err)
}

func TestGroupBalanceAndHistory(t *testing.T) {
	w := testutil.NewWorld(t)
	_, stActor := w.NewStudent(t, w.Halqa)
	ledger := NewLedgerService(w.DB)
	w.Earn(t, models.SubjectHalqa, w.Halqa.ID, models.CurrencyPoints, 40)
	w.Earn(t, models.SubjectHalqa, w.Halqa.ID, models.CurrencyPoints, 2)

	total, err := ledger.GroupBalance(stActor, w.Halqa.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, total)

	entries, count, err := ledger.History(w.Admin, models.SubjectHalqa, w.Halqa.ID, Pagination{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Len(t, entries, 1)

	otherHalqa := w.NewHalqa(t, w.Center.ID, nil, "حلقة العصر")
	_, err = ledger.GroupBalance(stActor, otherHalqa.ID)
	assert.Equal(t, "forbidden", Kind(err))
}
