package controllers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"halaqat_go/middleware"
	"halaqat_go/models"
	"halaqat_go/services"
	"halaqat_go/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiFixture struct {
	world *testutil.World
	app   *fiber.App
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	w := testutil.NewWorld(t)
	accounts := services.NewAccountService(w.DB, nil)
	auth := middleware.NewAuth("test-secret", time.Hour, w.DB, accounts)
	activity := middleware.NewActivityLogger(services.NewLogArchiveService(w.DB, nil, nil, 30))
	ledger := services.NewLedgerService(w.DB)
	rewards := NewRewardsController(RewardServices{Ledger: ledger}, nil, activity)

	app := fiber.New()
	app.Post("/api/auth/login", NewAuthController(accounts, auth, activity).Login)
	protected := app.Group("/api", auth.JWTMiddleware(), activity.Middleware())
	protected.Get("/students/:id/balance", rewards.Balance)
	protected.Post("/ledger/grants", rewards.Grant)
	workflows := NewWorkflowController(services.NewReportService(w.DB, nil, 5), nil, nil, activity)
	protected.Post("/reports", workflows.SubmitReport)
	protected.Put("/reports/:id", workflows.ResubmitReport)
	return &apiFixture{world: w, app: app}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (f *apiFixture) login(t *testing.T, userID uint) string {
	t.Helper()
	var u models.User
	require.NoError(t, f.world.DB.First(&u, userID).Error)
	status, env := f.do(t, http.MethodPost, "/api/auth/login", "", fmt.Sprintf(`{"username":%q,"password":%q}`, u.Username, testutil.Password))
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestLoginFailuresAreUnauthorized(t *testing.T) {
	f := newAPI(t)

	status, env := f.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"nobody","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", env.Error.Kind)

	status, env = f.do(t, http.MethodPost, "/api/auth/login", "", `{"username":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", env.Error.Kind)

	status, _ = f.do(t, http.MethodGet, "/api/students/1/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.do(t, http.MethodGet, "/api/students/1/balance", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGrantThenReadBalanceOverHTTP(t *testing.T) {
	f := newAPI(t)
	st, stActor := f.world.NewStudent(t, f.world.Halqa)
	teacher := f.login(t, f.world.TeacherActor.UserID)

	body := fmt.Sprintf(`{"subject_type":"student","subject_id":%d,"delta":15,"reason":"حفظ جزء عم"}`, st.ID)
	status, env := f.do(t, http.MethodPost, "/api/ledger/grants", teacher, body)
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = f.do(t, http.MethodPost, "/api/ledger/grants", teacher, `{"subject_type":"teacher","subject_id":1,"delta":1,"reason":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", env.Error.Kind)

	student := f.login(t, stActor.UserID)
	status, env = f.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d/balance", st.ID), student, "")
	require.Equal(t, http.StatusOK, status)
	var b services.Balance
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, 15, b.AvailablePoints)

	other, _ := f.world.NewStudent(t, f.world.Halqa)
	status, env = f.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d/balance", other.ID), student, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", env.Error.Kind)

	status, _ = f.do(t, http.MethodGet, "/api/students/abc/balance", student, "")
	assert.Equal(t, http.StatusBadRequest, status)

	var logged int64
	require.NoError(t, f.world.DB.Model(&models.ActivityLog{}).Count(&logged).Error)
	assert.NotZero(t, logged)
}

func TestReportDateIsTakenAsCalendarDay(t *testing.T) {
	f := newAPI(t)
	st, _ := f.world.NewStudent(t, f.world.Halqa)
	teacher := f.login(t, f.world.TeacherActor.UserID)

	status, env := f.do(t, http.MethodPost, "/api/reports", teacher, fmt.Sprintf(
		`{"halqa_id":%d,"report_date":"2024-05-01T00:30:00+03:00","entries":[{"student_id":%d,"attendance_status":"present"}]}`,
		f.world.Halqa.ID, st.ID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", env.Error.Kind)

	status, env = f.do(t, http.MethodPost, "/api/reports", teacher, fmt.Sprintf(
		`{"halqa_id":%d,"report_date":"2024-05-01","entries":[{"student_id":%d,"attendance_status":"present"}]}`,
		f.world.Halqa.ID, st.ID))
	require.Equal(t, http.StatusCreated, status, env.Error)
	var report models.Report
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "2024-05-01", report.ReportDate.UTC().Format("2006-01-02"))

	status, env = f.do(t, http.MethodPut, fmt.Sprintf("/api/reports/%d", report.ID), teacher, fmt.Sprintf(
		`{"entries":[{"student_id":%d,"attendance_status":"absent"}]}`, st.ID))
	require.Equal(t, http.StatusOK, status, env.Error)
	var again models.Report
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, models.ReportPending, again.Status)
	require.Len(t, again.Entries, 1)
	assert.Equal(t, models.AttendanceAbsent, again.Entries[0].AttendanceStatus)
}
