package services

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// header aliases accepted by the student import, normalized to lower case.
var importHeaders = map[string][]string{
	"full_name":    {"full_name", "name", "student_name", "اسم الطالب", "الاسم"},
	"phone":        {"phone", "student_phone", "جوال الطالب", "الجوال"},
	"parent_name":  {"parent_name", "guardian", "اسم ولي الأمر"},
	"parent_phone": {"parent_phone", "guardian_phone", "جوال ولي الأمر"},
	"relationship": {"relationship", "صلة القرابة"},
}

var attendanceCodes = map[string]string{
	models.AttendancePresent:              "ح",
	models.AttendanceAbsent:               "غ",
	models.AttendanceAbsentWithPermission: "إ",
	models.AttendanceEscaped:              "هـ",
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportedAccount pairs an imported student with the one-time credentials.
type ImportedAccount struct {
	Row         int         `json:"row"`
	StudentID   uint        `json:"student_id"`
	Student     Credentials `json:"student"`
	Parent      Credentials `json:"parent"`
	HasAccounts bool        `json:"has_accounts"`
}

type ImportResult struct {
	Created  int               `json:"created"`
	Accounts []ImportedAccount `json:"accounts"`
	Errors   []ImportRowError  `json:"errors"`
}

// SpreadsheetService imports students from and exports attendance to xlsx workbooks.
type SpreadsheetService struct {
	directory *DirectoryService
	accounts  *AccountService
}

func NewSpreadsheetService(directory *DirectoryService, accounts *AccountService) *SpreadsheetService {
	return &SpreadsheetService{directory: directory, accounts: accounts}
}

func headerIndexes(header []string) map[string]int {
	idx := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		for col, aliases := range importHeaders {
			if _, seen := idx[col]; seen {
				continue
			}
			for _, a := range aliases {
				if key == a {
					idx[col] = i
				}
			}
		}
	}
	return idx
}

// numberish turns phone numbers that spreadsheets stored as floats back into digits.
func numberish(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "Ee") && strings.Contains(s, "+") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fmt.Sprintf("%.0f", f)
		}
	}
	return s
}

func cell(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ImportStudents adds every row of the first sheet to the halqa. Rows with a parent are
// provisioned with logins; the others become plain student records. Bad rows are
// reported and skipped.
func (s *SpreadsheetService) ImportStudents(actor access.Actor, halqaID uint, r io.Reader) (*ImportResult, error) {
	if err := requireCapability(actor, access.ImportExport); err != nil {
		return nil, err
	}
	if _, err := s.directory.halqaForWrite(actor, halqaID); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalid("file", "file is not a readable xlsx workbook")
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, invalid("file", "cannot read first sheet")
	}
	if len(rows) < 2 {
		return nil, invalid("file", "workbook has no data rows")
	}
	idx := headerIndexes(rows[0])
	if _, ok := idx["full_name"]; !ok {
		return nil, invalid("file", "missing full_name column")
	}

	res := &ImportResult{Accounts: []ImportedAccount{}, Errors: []ImportRowError{}}
	for n, row := range rows[1:] {
		line := n + 2
		name := cell(row, idx, "full_name")
		if name == "" {
			continue
		}
		student := StudentInput{FullName: name, Phone: numberish(cell(row, idx, "phone")), HalqaID: halqaID}
		parentName := cell(row, idx, "parent_name")
		if parentName == "" {
			st, err := s.directory.CreateStudent(actor, student)
			if err != nil {
				res.Errors = append(res.Errors, ImportRowError{Row: line, Message: err.Error()})
				continue
			}
			res.Created++
			res.Accounts = append(res.Accounts, ImportedAccount{Row: line, StudentID: st.ID})
			continue
		}
		rel := strings.ToLower(cell(row, idx, "relationship"))
		if rel == "" {
			rel = "guardian"
		}
		out, err := s.accounts.ProvisionStudentWithParent(actor, ProvisionInput{
			Student:      student,
			Parent:       ParentInput{FullName: parentName, Phone: numberish(cell(row, idx, "parent_phone"))},
			Relationship: rel,
		})
		if err != nil {
			res.Errors = append(res.Errors, ImportRowError{Row: line, Message: err.Error()})
			continue
		}
		res.Created++
		res.Accounts = append(res.Accounts, ImportedAccount{
			Row:         line,
			StudentID:   out.Student.ID,
			Student:     out.Credentials.Student,
			Parent:      out.Credentials.Parent,
			HasAccounts: true,
		})
	}
	logrus.WithFields(logrus.Fields{
		"halqa_id": halqaID,
		"created":  res.Created,
		"errors":   len(res.Errors),
	}).Info("students imported")
	return res, nil
}

type attendanceRow struct {
	StudentID        uint
	ReportDate       time.Time
	AttendanceStatus string
}

// ExportAttendance writes one row per active student and one column per report day of
// the month. It returns the workbook bytes and a file name.
func (s *SpreadsheetService) ExportAttendance(actor access.Actor, halqaID uint, year int, month time.Month) ([]byte, string, error) {
	if err := requireCapability(actor, access.ImportExport); err != nil {
		return nil, "", err
	}
	if month < time.January || month > time.December {
		return nil, "", invalid("month", "month must be 1..12")
	}
	halqa, err := s.directory.GetHalqa(actor, halqaID)
	if err != nil {
		return nil, "", err
	}
	db := s.directory.db
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var students []models.Student
	if err := db.Where("halqa_id = ? AND is_active = ?", halqaID, true).Order("full_name").Find(&students).Error; err != nil {
		return nil, "", errors.Wrap(err, "load students")
	}
	var days []time.Time
	if err := db.Model(&models.Report{}).
		Where("halqa_id = ? AND report_date >= ? AND report_date < ?", halqaID, from, to).
		Order("report_date").Pluck("report_date", &days).Error; err != nil {
		return nil, "", errors.Wrap(err, "load report days")
	}
	var marks []attendanceRow
	if err := db.Table("report_entries AS e").
		Select("e.student_id AS student_id, r.report_date AS report_date, e.attendance_status AS attendance_status").
		Joins("JOIN reports AS r ON r.id = e.report_id").
		Where("r.halqa_id = ? AND r.report_date >= ? AND r.report_date < ?", halqaID, from, to).
		Scan(&marks).Error; err != nil {
		return nil, "", errors.Wrap(err, "load attendance")
	}
	byStudent := map[uint]map[string]string{}
	for _, m := range marks {
		if byStudent[m.StudentID] == nil {
			byStudent[m.StudentID] = map[string]string{}
		}
		byStudent[m.StudentID][m.ReportDate.UTC().Format("2006-01-02")] = m.AttendanceStatus
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", errors.Wrap(err, "name sheet")
	}
	header := []interface{}{"الطالب"}
	for _, d := range days {
		header = append(header, d.UTC().Format("2006-01-02"))
	}
	header = append(header, "حضور", "غياب")
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, "", errors.Wrap(err, "write header")
	}
	for i, st := range students {
		row := []interface{}{st.FullName}
		present, absent := 0, 0
		for _, d := range days {
			status := byStudent[st.ID][d.UTC().Format("2006-01-02")]
			switch status {
			case models.AttendancePresent:
				present++
			case models.AttendanceAbsent, models.AttendanceEscaped:
				absent++
			}
			row = append(row, attendanceCodes[status])
		}
		row = append(row, present, absent)
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return nil, "", errors.Wrap(err, "write row")
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 30)
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, Split: false, XSplit: 1, YSplit: 1, TopLeftCell: "B2", ActivePane: "bottomRight"}); err != nil {
		logrus.WithError(err).Debug("freeze panes failed")
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", errors.Wrap(err, "write workbook")
	}
	name := fmt.Sprintf("attendance_%d_%04d_%02d.xlsx", halqa.ID, year, int(month))
	return buf.Bytes(), name, nil
}
