package services

import (
	"testing"
	"time"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradePtr(v int) *int { return &v }

func TestReportDayTruncatesToUTC(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*60*60)
	got := ReportDay(time.Date(2024, 3, 10, 1, 30, 0, 0, riyadh))
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestSubmitAndApproveGrantsPoints(t *testing.T) {
	w := testutil.NewWorld(t)
	a, aActor := w.NewStudent(t, w.Halqa)
	b, _ := w.NewStudent(t, w.Halqa)
	notify := &recordingNotifier{}
	reports := NewReportService(w.DB, notify, 5)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	report, err := reports.Submit(w.TeacherActor, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: day,
		Entries: []EntryInput{
			{StudentID: a.ID, AttendanceStatus: models.AttendancePresent, Recitations: []RecitationInput{
				{SurahName: "البقرة", FromAyah: 1, ToAyah: 5, Type: models.RecitationNewMemorization, Grade: gradePtr(8)},
				{SurahName: "الفاتحة", FromAyah: 1, ToAyah: 7, Type: models.RecitationReview},
			}},
			{StudentID: b.ID, AttendanceStatus: models.AttendanceAbsent},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, report.Status)
	assert.Equal(t, w.Teacher.ID, report.TeacherID)
	require.Len(t, report.Entries, 2)
	assert.Len(t, report.Entries[0].Recitations, 2)

	_, err = reports.Submit(w.TeacherActor, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: day.Add(3 * time.Hour),
		Entries:    []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendancePresent}},
	})
	assert.Equal(t, "conflict", Kind(err))

	_, err = reports.Review(w.TeacherActor, report.ID, true, "")
	assert.Equal(t, "forbidden", Kind(err))

	approved, err := reports.Review(w.Officer, report.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, approved.Status)

	ledger := NewLedgerService(w.DB)
	bal, err := ledger.Balance(aActor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 13, bal.AvailablePoints)
	absent, err := ledger.AvailablePoints(b.ID)
	require.NoError(t, err)
	assert.Zero(t, absent)

	_, err = reports.Review(w.Officer, report.ID, false, "late")
	assert.Equal(t, "conflict", Kind(err))
	_, err = reports.Resubmit(w.TeacherActor, report.ID, ResubmitInput{
		Entries: []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendancePresent}},
	})
	assert.Equal(t, "conflict", Kind(err))
}

func TestSubmitValidatesEntries(t *testing.T) {
	w := testutil.NewWorld(t)
	a, _ := w.NewStudent(t, w.Halqa)
	other := w.NewHalqa(t, w.Center.ID, nil, "حلقة العشاء")
	stranger, _ := w.NewStudent(t, other)
	reports := NewReportService(w.DB, nil, 5)

	_, err := reports.Submit(w.TeacherActor, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: time.Now(),
		Entries: []EntryInput{
			{StudentID: a.ID, AttendanceStatus: "sleeping", Recitations: []RecitationInput{
				{SurahName: "النساء", FromAyah: 10, ToAyah: 3, Type: models.RecitationReview, Grade: gradePtr(11)},
			}},
			{StudentID: stranger.ID, AttendanceStatus: models.AttendancePresent},
		},
	})
	assert.Equal(t, "validation", Kind(err))
	fields := map[string]bool{}
	for _, f := range FieldsOf(err) {
		fields[f.Field] = true
	}
	assert.True(t, fields["entries[0].attendance_status"])
	assert.True(t, fields["entries[0].recitations[0].to_ayah"])
	assert.True(t, fields["entries[0].recitations[0].grade"])
	assert.True(t, fields["entries[1].student_id"])

	var n int64
	require.NoError(t, w.DB.Model(&models.Report{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRejectWithoutNotesAllowsResubmit(t *testing.T) {
	w := testutil.NewWorld(t)
	a, _ := w.NewStudent(t, w.Halqa)
	reports := NewReportService(w.DB, nil, 5)

	report, err := reports.Submit(w.TeacherActor, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: time.Now(),
		Entries:    []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendanceAbsent}},
	})
	require.NoError(t, err)

	rejected, err := reports.Review(w.Admin, report.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReportRejected, rejected.Status)
	assert.Empty(t, rejected.ReviewNotes)
	require.NotNil(t, rejected.ReviewedAt)

	again, err := reports.Resubmit(w.TeacherActor, report.ID, ResubmitInput{
		Entries: []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendancePresent}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, again.Status)
	assert.Empty(t, again.ReviewNotes)
	require.Len(t, again.Entries, 1)
	assert.Equal(t, models.AttendancePresent, again.Entries[0].AttendanceStatus)
}

func TestOtherTeacherCannotFile(t *testing.T) {
	w := testutil.NewWorld(t)
	a, _ := w.NewStudent(t, w.Halqa)
	_, otherTeacher := w.NewTeacher(t, w.Center.ID)

	_, err := NewReportService(w.DB, nil, 5).Submit(otherTeacher, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: time.Now(),
		Entries:    []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendancePresent}},
	})
	assert.Equal(t, "forbidden", Kind(err))
}

func TestRosterDraftsActiveStudents(t *testing.T) {
	w := testutil.NewWorld(t)
	w.NewStudent(t, w.Halqa)
	w.NewStudent(t, w.Halqa)

	draft, err := NewReportService(w.DB, nil, 5).Roster(w.TeacherActor, w.Halqa.ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, draft.ID)
	require.Len(t, draft.Entries, 2)
	for _, e := range draft.Entries {
		assert.Equal(t, models.AttendancePresent, e.AttendanceStatus)
	}
}

func TestRemindMissingNotifiesTeachers(t *testing.T) {
	w := testutil.NewWorld(t)
	a, _ := w.NewStudent(t, w.Halqa)
	w.NewHalqa(t, w.Center.ID, nil, "بدون معلم")
	notify := &recordingNotifier{}
	reports := NewReportService(w.DB, notify, 5)
	today := time.Now()

	n, err := reports.RemindMissing(today)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, notify.to, 1)
	assert.Equal(t, []uint{w.TeacherActor.UserID}, notify.to[0])

	_, err = reports.Submit(w.TeacherActor, ReportInput{
		HalqaID:    w.Halqa.ID,
		ReportDate: today,
		Entries:    []EntryInput{{StudentID: a.ID, AttendanceStatus: models.AttendancePresent}},
	})
	require.NoError(t, err)

	missing, err := reports.MissingReports(today)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
