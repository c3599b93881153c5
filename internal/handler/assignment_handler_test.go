package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/config"
	"github.com/COS301-SE-2025/fitchfork-go/internal/dto"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/handler"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/router"
	"github.com/COS301-SE-2025/fitchfork-go/internal/service"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/sandbox"
)

type stubRunner struct{}

func (stubRunner) RunTask(_ context.Context, _ sandbox.RunRequest) (sandbox.RunResult, error) {
	return sandbox.RunResult{ExitCode: 0}, nil
}

func setupTestApp(t *testing.T, role string) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// a second pooled connection would see its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Assignment{}, &models.AssignmentTask{}, &models.Submission{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	runner := stubRunner{}

	loadConfig := func(path string) (*execconfig.Config, error) {
		cfg, err := execconfig.Load(path, validate)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	userRepo := repository.NewUserRepository(db)

	assignmentService := service.NewAssignmentService(assignmentRepo, taskRepo, store, validate, logger)
	readinessService := service.NewReadinessService(assignmentRepo, taskRepo, store, validate, logger)
	attemptService := service.NewAttemptService(assignmentRepo, submissionRepo, store, loadConfig, logger)
	accessService := service.NewAccessService(assignmentRepo, store, loadConfig, logger)
	gradingService := service.NewGradingService(assignmentRepo, submissionRepo, attemptService, store, runner,
		loadConfig, "test-runner", 1, logger)
	statsService := service.NewStatsService(assignmentRepo, submissionRepo, userRepo, store, loadConfig,
		nil, time.Minute, logger)
	submissionService := service.NewSubmissionService(submissionRepo, statsService, logger)
	gatlamService := service.NewGatlamService(assignmentRepo, submissionRepo, store, runner,
		loadConfig, "test-runner", logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, readinessService, gradingService,
			time.Minute, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, gradingService, attemptService,
			accessService, gatlamService, validate, logger),
		StatsHandler: handler.NewStatsHandler(statsService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", uint(1))
			c.Locals("username", "u1")
			c.Locals("user_role", role)
			return c.Next()
		},
	})

	return app, db
}

func decodeResponse(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	require.NoError(t, resp.Body.Close())
}

func jsonRequest(t *testing.T, method, target string, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartUpload(t *testing.T, target string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "solution.zip")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func smallZip(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	f, err := zw.Create("main.cpp")
	require.NoError(t, err)
	_, err = f.Write([]byte("int main() { return 0; }\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	app, _ := setupTestApp(t, models.RoleLecturer)

	createReq := jsonRequest(t, http.MethodPost, "/api/v1/assignments", dto.AssignmentCreateRequest{
		ModuleID:      7,
		Name:          "Linked Lists",
		AvailableFrom: time.Now().Add(-time.Hour),
		DueDate:       time.Now().Add(24 * time.Hour),
	})
	resp, err := app.Test(createReq)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		Success bool                   `json:"success"`
		Data    dto.AssignmentResponse `json:"data"`
		Message string                 `json:"message"`
	}
	decodeResponse(t, resp, &created)
	require.True(t, created.Success)
	require.NotZero(t, created.Data.ID)
	require.Equal(t, models.AssignmentStatusSetup, created.Data.Status)

	id := strconv.FormatUint(uint64(created.Data.ID), 10)

	getResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/assignments/"+id, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, getResp.StatusCode)

	var fetched struct {
		Data dto.AssignmentResponse `json:"data"`
	}
	decodeResponse(t, getResp, &fetched)
	require.Equal(t, "Linked Lists", fetched.Data.Name)

	newName := "Linked Lists v2"
	patchResp, err := app.Test(jsonRequest(t, http.MethodPatch, "/api/v1/assignments/"+id,
		dto.AssignmentUpdateRequest{Name: &newName}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, patchResp.StatusCode)

	listResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/assignments?module_id=7", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, listResp.StatusCode)

	var listed struct {
		Data struct {
			Items []dto.AssignmentResponse `json:"items"`
			Total int64                    `json:"total"`
		} `json:"data"`
	}
	decodeResponse(t, listResp, &listed)
	require.Equal(t, int64(1), listed.Data.Total)
	require.Equal(t, newName, listed.Data.Items[0].Name)
}

func TestAssignmentCreateRequiresStaff(t *testing.T) {
	app, _ := setupTestApp(t, models.RoleStudent)

	req := jsonRequest(t, http.MethodPost, "/api/v1/assignments", dto.AssignmentCreateRequest{
		ModuleID:      1,
		Name:          "Not Allowed",
		AvailableFrom: time.Now(),
		DueDate:       time.Now().Add(time.Hour),
	})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSubmissionUploadRejectsNonArchive(t *testing.T) {
	app, db := setupTestApp(t, models.RoleStudent)

	assignment := models.Assignment{
		ModuleID:      1,
		Name:          "Sorting",
		Status:        models.AssignmentStatusOpen,
		AvailableFrom: time.Now().Add(-time.Hour),
		DueDate:       time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(&assignment).Error)

	req := multipartUpload(t, "/api/v1/assignments/"+strconv.FormatUint(uint64(assignment.ID), 10)+"/submissions",
		[]byte("definitely not an archive"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestSubmissionUploadRequiresOpenAssignment(t *testing.T) {
	app, db := setupTestApp(t, models.RoleStudent)

	assignment := models.Assignment{
		ModuleID:      1,
		Name:          "Sorting",
		Status:        models.AssignmentStatusSetup,
		AvailableFrom: time.Now().Add(-time.Hour),
		DueDate:       time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(&assignment).Error)

	req := multipartUpload(t, "/api/v1/assignments/"+strconv.FormatUint(uint64(assignment.ID), 10)+"/submissions",
		smallZip(t))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
