package services

import (
	"bytes"
	"testing"
	"time"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", addr, &r))
	}
	buf := new(bytes.Buffer)
	require.NoError(t, f.Write(buf))
	return buf
}

func TestImportStudentsReportsBadRows(t *testing.T) {
	w := testutil.NewWorld(t)
	dir := NewDirectoryService(w.DB)
	sheets := NewSpreadsheetService(dir, NewAccountService(w.DB, nil))

	buf := workbook(t, [][]interface{}{
		{"اسم الطالب", "جوال الطالب", "اسم ولي الأمر", "جوال ولي الأمر", "صلة القرابة"},
		{"سالم خالد", "", "خالد سالم", "0507654321", "father"},
		{"", "", "", "", ""},
		{"ماجد", "", "", "", ""},
		{"فهد", "", "أبو فهد", "", "neighbour"},
	})
	res, err := sheets.ImportStudents(w.Admin, w.Halqa.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Accounts, 2)
	assert.True(t, res.Accounts[0].HasAccounts)
	assert.Equal(t, "0507654321", res.Accounts[0].Student.Password)
	assert.False(t, res.Accounts[1].HasAccounts)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].Row)

	_, err = sheets.ImportStudents(w.TeacherActor, w.Halqa.ID, workbook(t, nil))
	assert.Equal(t, "forbidden", Kind(err))
	_, err = sheets.ImportStudents(w.Admin, w.Halqa.ID, bytes.NewBufferString("not a workbook"))
	assert.Equal(t, "validation", Kind(err))
	_, err = sheets.ImportStudents(w.Admin, w.Halqa.ID, workbook(t, [][]interface{}{{"phone"}, {"0500"}}))
	assert.Equal(t, "validation", Kind(err))
}

func TestExportAttendanceMonth(t *testing.T) {
	w := testutil.NewWorld(t)
	a, _ := w.NewStudent(t, w.Halqa)
	b, _ := w.NewStudent(t, w.Halqa)
	reports := NewReportService(w.DB, nil, 5)
	sheets := NewSpreadsheetService(NewDirectoryService(w.DB), NewAccountService(w.DB, nil))

	day := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	for i, statuses := range [][2]string{
		{models.AttendancePresent, models.AttendanceAbsent},
		{models.AttendancePresent, models.AttendanceAbsentWithPermission},
	} {
		_, err := reports.Submit(w.TeacherActor, ReportInput{
			HalqaID:    w.Halqa.ID,
			ReportDate: day.AddDate(0, 0, i),
			Entries: []EntryInput{
				{StudentID: a.ID, AttendanceStatus: statuses[0]},
				{StudentID: b.ID, AttendanceStatus: statuses[1]},
			},
		})
		require.NoError(t, err)
	}

	_, _, err := sheets.ExportAttendance(w.Officer, w.Halqa.ID, 2024, 13)
	assert.Equal(t, "validation", Kind(err))

	data, name, err := sheets.ExportAttendance(w.Officer, w.Halqa.ID, 2024, time.February)
	require.NoError(t, err)
	assert.Contains(t, name, "2024_02")

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"الطالب", "2024-02-05", "2024-02-06", "حضور", "غياب"}, rows[0])

	byName := map[string][]string{}
	for _, r := range rows[1:] {
		byName[r[0]] = r
	}
	assert.Equal(t, []string{a.FullName, "ح", "ح", "2", "0"}, byName[a.FullName])
	assert.Equal(t, []string{b.FullName, "غ", "إ", "0", "1"}, byName[b.FullName])
}
