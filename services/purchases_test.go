package services

import (
	"testing"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(t *testing.T, w *testutil.World, scope string, points, badges int, stock *int) models.CatalogItem {
	t.Helper()
	item := models.CatalogItem{
		CenterID:      &w.Center.ID,
		Name:          "مصحف",
		PointsCost:    points,
		BadgesCost:    badges,
		Scope:         scope,
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, w.DB.Create(&item).Error)
	return item
}

func intPtr(v int) *int { return &v }

// assertPointsConserved checks available = total - points held by the student's non-rejected requests.
func assertPointsConserved(t *testing.T, w *testutil.World, studentID uint) {
	t.Helper()
	ledger := NewLedgerService(w.DB)
	available, err := ledger.AvailablePoints(studentID)
	require.NoError(t, err)
	total, err := ledger.TotalPoints(studentID)
	require.NoError(t, err)
	var spent int64
	require.NoError(t, w.DB.Model(&models.PurchaseRequest{}).
		Where("student_id = ? AND status <> ?", studentID, models.PurchaseRejected).
		Select("COALESCE(SUM(points_spent), 0)").Scan(&spent).Error)
	assert.Equal(t, total-int(spent), available)
}

func TestPurchaseSpendsBalanceAndStock(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 30, 1, intPtr(1))
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 50)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyBadges, 1)
	notify := &recordingNotifier{}
	purchases := NewPurchaseService(w.DB, notify)
	ledger := NewLedgerService(w.DB)

	req, err := purchases.Create(stActor, st.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchasePending, req.Status)
	assert.Equal(t, 30, req.PointsSpent)
	assert.Equal(t, 1, req.BadgesSpent)

	b, err := ledger.Balance(stActor, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, b.AvailablePoints)
	assert.Equal(t, 50, b.TotalPoints)
	assert.Zero(t, b.AvailableBadges)

	var reloaded models.CatalogItem
	require.NoError(t, w.DB.First(&reloaded, item.ID).Error)
	assert.Equal(t, 0, *reloaded.StockQuantity)
	assert.NotEmpty(t, notify.sent)
}

func TestPurchaseInsufficientBalanceListsFields(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 30, 2, nil)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 10)

	_, err := NewPurchaseService(w.DB, nil).Create(stActor, st.ID, item.ID)
	assert.Equal(t, "validation", Kind(err))
	flds := FieldsOf(err)
	require.Len(t, flds, 2)
	assert.Equal(t, "points", flds[0].Field)
	assert.Equal(t, "badges", flds[1].Field)

	var n int64
	require.NoError(t, w.DB.Model(&models.PurchaseRequest{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPurchaseOutOfStockConflicts(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 0, 0, intPtr(0))

	_, err := NewPurchaseService(w.DB, nil).Create(stActor, st.ID, item.ID)
	assert.Equal(t, "conflict", Kind(err))
}

func TestStudentCannotBuyForAnother(t *testing.T) {
	w := testutil.NewWorld(t)
	st, _ := w.NewStudent(t, w.Halqa)
	_, other := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 0, 0, nil)

	_, err := NewPurchaseService(w.DB, nil).Create(other, st.ID, item.ID)
	assert.Equal(t, "forbidden", Kind(err))
}

func TestGroupItemNeedsVote(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeGroup, 0, 0, nil)

	_, err := NewPurchaseService(w.DB, nil).Create(stActor, st.ID, item.ID)
	assert.Equal(t, "validation", Kind(err))
}

func TestRejectRefundsPointsOnly(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 30, 1, intPtr(3))
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 30)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyBadges, 1)
	purchases := NewPurchaseService(w.DB, nil)
	ledger := NewLedgerService(w.DB)

	req, err := purchases.Create(stActor, st.ID, item.ID)
	require.NoError(t, err)

	rejected, err := purchases.Reject(w.Officer, req.ID, "نفد")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseRejected, rejected.Status)
	assert.Equal(t, "نفد", rejected.RejectionReason)

	b, err := ledger.Balance(stActor, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, b.AvailablePoints)
	assert.Zero(t, b.AvailableBadges)

	var reloaded models.CatalogItem
	require.NoError(t, w.DB.First(&reloaded, item.ID).Error)
	assert.Equal(t, 3, *reloaded.StockQuantity)

	_, err = purchases.Deliver(w.Officer, req.ID)
	assert.Equal(t, "conflict", Kind(err))
}

func TestDeliverNeedsDecider(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 0, 0, nil)
	purchases := NewPurchaseService(w.DB, nil)

	req, err := purchases.Create(stActor, st.ID, item.ID)
	require.NoError(t, err)

	_, err = purchases.Deliver(w.TeacherActor, req.ID)
	assert.Equal(t, "forbidden", Kind(err))

	delivered, err := purchases.Deliver(w.Admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveredAt)
}

func TestPurchaseListScopes(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	other, otherActor := w.NewStudent(t, w.Halqa)
	_, parent := w.NewParent(t, w.Center.ID, st)
	item := newItem(t, w, models.ScopeStudent, 0, 0, nil)
	purchases := NewPurchaseService(w.DB, nil)

	_, err := purchases.Create(stActor, st.ID, item.ID)
	require.NoError(t, err)
	_, err = purchases.Create(otherActor, other.ID, item.ID)
	require.NoError(t, err)

	_, total, err := purchases.List(w.Admin, PurchaseFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	mine, total, err := purchases.List(stActor, PurchaseFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.NotNil(t, mine[0].StudentID)
	assert.Equal(t, st.ID, *mine[0].StudentID)

	_, total, err = purchases.List(parent, PurchaseFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestPointsConservedAcrossMixedOutcomes(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	item := newItem(t, w, models.ScopeStudent, 20, 0, nil)
	w.Earn(t, models.SubjectStudent, st.ID, models.CurrencyPoints, 100)
	purchases := NewPurchaseService(w.DB, nil)

	var ids []uint
	for i := 0; i < 3; i++ {
		req, err := purchases.Create(stActor, st.ID, item.ID)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	assertPointsConserved(t, w, st.ID)

	_, err := purchases.Deliver(w.Officer, ids[0])
	require.NoError(t, err)
	_, err = purchases.Reject(w.Officer, ids[1], "")
	require.NoError(t, err)
	assertPointsConserved(t, w, st.ID)

	b, err := NewLedgerService(w.DB).Balance(stActor, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, b.TotalPoints)
	assert.Equal(t, 60, b.AvailablePoints)
}
