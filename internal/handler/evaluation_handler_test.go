package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/ingest"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
)

type formFile struct {
	field   string
	name    string
	content string
}

func newEvaluationApp(t *testing.T, persist bool) *fiber.App {
	t.Helper()
	opts := service.EvaluationOptions{Policy: grading.DefaultPolicy(), Workers: 2}
	if persist {
		db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(&models.EvaluationRun{}, &models.EvaluationResult{}))
		opts.Repository = repository.NewEvaluationRepository(db)
	}
	logger := zerolog.New(io.Discard)
	svc := service.NewEvaluationService(opts, logger)
	ingestor := ingest.New(ingest.Config{AllowedExtensions: []string{".py", ".txt"}, MaxBytes: 1 << 20})

	app := fiber.New()
	group := app.Group("/api/v1/evaluations")
	handler.NewEvaluationHandler(svc, ingestor, validator.New(), logger).Register(group)
	return app
}

func multipartRequest(t *testing.T, fields map[string]string, files []formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func codeFields() map[string]string {
	return map[string]string{
		"assignment_type":   "code",
		"problem_statement": "Write a function to calculate factorial",
	}
}

func TestEvaluationHandlerCreate(t *testing.T) {
	app := newEvaluationApp(t, true)

	req := multipartRequest(t, codeFields(), []formFile{
		{field: "files", name: "alice.py", content: "def factorial(n): return 1 if n<=1 else n*factorial(n-1)"},
		{field: "files", name: "payload.exe", content: "MZ"},
	})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Success bool                      `json:"success"`
		Message string                    `json:"message"`
		Data    dto.EvaluationRunResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, "evaluation completed", response.Message)
	require.True(t, response.Data.Persisted)
	require.Len(t, response.Data.Results, 1)
	require.Equal(t, "alice", response.Data.Results[0].StudentID)
	require.Equal(t, 79.89, response.Data.Results[0].FinalScore)
	require.Len(t, response.Data.Rejected, 1)
	require.Equal(t, "payload.exe", response.Data.Rejected[0].FileName)

	runID := response.Data.ID
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/"+runID, nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var stored struct {
		Data dto.EvaluationRunResponse `json:"data"`
	}
	decodeResponse(t, resp, &stored)
	require.Equal(t, runID, stored.Data.ID)
	require.Equal(t, response.Data.Results[0].Feedback, stored.Data.Results[0].Feedback)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/"+runID+"/summary.csv", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "results_"+runID+".csv")
	csvBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(csvBody), "student_id,file,assignment_type,final_score,max_score,feedback\n"))
	require.Contains(t, string(csvBody), "alice,alice.py,code,79.89,100.00,")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/"+runID+"/detailed.csv", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations?limit=5", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed struct {
		Data []dto.EvaluationRunResponse `json:"data"`
		Meta map[string]interface{}      `json:"meta"`
	}
	decodeResponse(t, resp, &listed)
	require.Len(t, listed.Data, 1)
	require.Equal(t, float64(1), listed.Meta["count"])
}

func TestEvaluationHandlerRejectsBadRequests(t *testing.T) {
	app := newEvaluationApp(t, false)
	source := formFile{field: "files", name: "alice.py", content: "print('hi')"}

	cases := []struct {
		name    string
		fields  map[string]string
		files   []formFile
		message string
	}{
		{
			name:    "unknown type",
			fields:  map[string]string{"assignment_type": "video", "problem_statement": "Write a function"},
			files:   []formFile{source},
			message: "validation failed",
		},
		{
			name:    "missing problem",
			fields:  map[string]string{"assignment_type": "code"},
			files:   []formFile{source},
			message: "validation failed",
		},
		{
			name:    "no files",
			fields:  codeFields(),
			message: "at least one file is required",
		},
		{
			name:    "bad rubric",
			fields:  codeFields(),
			files:   []formFile{source, {field: "rubric", name: "rubric.json", content: `{"dimensions": {"code": {"weight": 0.5, "max_score": 100, "criteria": {"approach": {"weight": 1}}}}}`}},
			message: "rubric:",
		},
	}

	for _, tc := range cases {
		resp, err := app.Test(multipartRequest(t, tc.fields, tc.files), -1)
		require.NoError(t, err, tc.name)
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode, tc.name)

		var response struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		decodeResponse(t, resp, &response)
		require.False(t, response.Success, tc.name)
		require.Contains(t, response.Message, tc.message, tc.name)
	}
}

func TestEvaluationHandlerLookupErrors(t *testing.T) {
	persisted := newEvaluationApp(t, true)
	resp, err := persisted.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/unknown", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	ephemeral := newEvaluationApp(t, false)
	resp, err = ephemeral.Test(httptest.NewRequest(http.MethodGet, "/api/v1/evaluations/unknown/summary.csv", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)
}
