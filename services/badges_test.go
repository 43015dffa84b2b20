package services

import (
	"testing"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwardCreditsBadgeAndPoints(t *testing.T) {
	w := testutil.NewWorld(t)
	st, stActor := w.NewStudent(t, w.Halqa)
	ledger := NewLedgerService(w.DB)
	notify := &recordingNotifier{}
	badges := NewBadgeService(w.DB, ledger, notify)

	badge, err := badges.Create(w.Admin, BadgeInput{Name: "الحافظ", PointValue: 10})
	require.NoError(t, err)
	require.NotNil(t, badge.CenterID)
	assert.Equal(t, w.Center.ID, *badge.CenterID)

	award, err := badges.Award(w.TeacherActor, badge.ID, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "الحافظ", award.Badge.Name)
	assert.Len(t, notify.sent, 1)

	b, err := ledger.Balance(stActor, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableBadges)
	assert.Equal(t, 10, b.AvailablePoints)
	assert.Equal(t, 10, b.TotalPoints)

	awards, err := badges.Awards(stActor, st.ID)
	require.NoError(t, err)
	assert.Len(t, awards, 1)
}

func TestBadgeValidationAndScope(t *testing.T) {
	w := testutil.NewWorld(t)
	badges := NewBadgeService(w.DB, NewLedgerService(w.DB), nil)

	_, err := badges.Create(w.Admin, BadgeInput{PointValue: -1, Requirement: models.BadgeRequirement{Type: "magic", Threshold: 1}})
	assert.Equal(t, "validation", Kind(err))
	assert.Len(t, FieldsOf(err), 3)

	_, err = badges.Create(w.TeacherActor, BadgeInput{Name: "x"})
	assert.Equal(t, "forbidden", Kind(err))

	other := w.NewCenter(t, "مركز آخر")
	foreignAdmin := w.StaffActor(t, access.RoleCenterAdmin, other.ID)
	foreign, err := badges.Create(foreignAdmin, BadgeInput{Name: "غريب"})
	require.NoError(t, err)
	global, err := badges.Create(w.Super, BadgeInput{Name: "عام"})
	require.NoError(t, err)
	assert.Nil(t, global.CenterID)

	st, _ := w.NewStudent(t, w.Halqa)
	_, err = badges.Award(w.Admin, foreign.ID, st.ID)
	assert.Equal(t, "validation", Kind(err))

	list, err := badges.List(w.Admin)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, global.ID, list[0].ID)

	assert.Equal(t, "forbidden", Kind(badges.Deactivate(w.Admin, foreign.ID)))
	require.NoError(t, badges.Deactivate(foreignAdmin, foreign.ID))
}

func TestEligibleFollowsProgress(t *testing.T) {
	w := testutil.NewWorld(t)
	st, _ := w.NewStudent(t, w.Halqa)
	ledger := NewLedgerService(w.DB)
	badges := NewBadgeService(w.DB, ledger, nil)
	reports := NewReportService(w.DB, nil, 5)

	streak, err := badges.Create(w.Admin, BadgeInput{
		Name: "المواظب", Requirement: models.BadgeRequirement{Type: models.RequirementAttendanceStreak, Threshold: 2},
	})
	require.NoError(t, err)
	_, err = badges.Create(w.Admin, BadgeInput{
		Name: "المتميز", Requirement: models.BadgeRequirement{Type: models.RequirementPointsTotal, Threshold: 100},
	})
	require.NoError(t, err)

	day := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		r, err := reports.Submit(w.TeacherActor, ReportInput{
			HalqaID:    w.Halqa.ID,
			ReportDate: day.AddDate(0, 0, i),
			Entries:    []EntryInput{{StudentID: st.ID, AttendanceStatus: models.AttendancePresent}},
		})
		require.NoError(t, err)
		_, err = reports.Review(w.Officer, r.ID, true, "")
		require.NoError(t, err)
	}

	progress, err := badges.Progress(st.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress[models.RequirementAttendanceStreak])
	assert.Equal(t, 2, progress[models.RequirementReportsApproved])
	assert.Equal(t, 10, progress[models.RequirementPointsTotal])

	eligible, err := badges.Eligible(w.Admin, st.ID)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, streak.ID, eligible[0].ID)

	_, err = badges.Award(w.Admin, streak.ID, st.ID)
	require.NoError(t, err)
	eligible, err = badges.Eligible(w.Admin, st.ID)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}
