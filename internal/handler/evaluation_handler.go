package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/export"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/ingest"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

const maxRubricBytes = 1 << 20

// EvaluationHandler exposes batch evaluation over HTTP.
type EvaluationHandler struct {
	service   service.EvaluationService
	ingestor  *ingest.Ingestor
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewEvaluationHandler constructs an evaluation handler.
func NewEvaluationHandler(service service.EvaluationService, ingestor *ingest.Ingestor, validator *validator.Validate, logger zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		service:   service,
		ingestor:  ingestor,
		validator: validator,
		logger:    logger.With().Str("component", "evaluation_handler").Logger(),
	}
}

// Register wires evaluation routes.
func (h *EvaluationHandler) Register(router fiber.Router, submit ...fiber.Handler) {
	router.Post("", append(submit, h.create)...)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Get("/:id/summary.csv", h.summaryCSV)
	router.Get("/:id/detailed.csv", h.detailedCSV)
}

func (h *EvaluationHandler) create(c *fiber.Ctx) error {
	var req dto.EvaluationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid form payload")
	}
	req.Normalize()
	if err := h.validator.Struct(req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form is required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "at least one file is required")
	}

	var custom *rubric.Rubric
	if headers := form.File["rubric"]; len(headers) > 0 {
		custom, err = readRubric(headers[0])
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
	}

	submissions, rejected := h.ingestor.ReadMultipart(files)
	batch, err := h.service.EvaluateSubmissions(c.UserContext(), service.BatchRequest{
		AssignmentType:   grading.AssignmentType(req.AssignmentType),
		ProblemStatement: req.ProblemStatement,
		ReferenceText:    req.ReferenceText,
		Rubric:           custom,
		Submissions:      submissions,
		Rejected:         rejected,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().
		Str("run_id", batch.RunID).
		Str("requested_by", userIDStringFromContext(c)).
		Int("students", len(batch.Results)).
		Msg("evaluation batch completed")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "evaluation completed", dto.NewEvaluationRunResponse(batch))
}

func (h *EvaluationHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "limit must be a number")
	}
	filter := dto.EvaluationRunFilter{Limit: limit}
	if err := h.validator.Struct(filter); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	runs, err := h.service.ListRuns(c.UserContext(), filter.Limit)
	if err != nil {
		return h.handleError(c, err)
	}
	items := make([]dto.EvaluationRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, dto.NewEvaluationRunSummary(run))
	}
	return utils.OK(c, items, "evaluation runs retrieved", fiber.Map{"count": len(items)})
}

func (h *EvaluationHandler) get(c *fiber.Ctx) error {
	batch, err := h.service.GetRun(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "evaluation run retrieved", dto.NewEvaluationRunResponse(batch))
}

func (h *EvaluationHandler) summaryCSV(c *fiber.Ctx) error {
	return h.sendCSV(c, export.SummaryName, export.WriteSummary)
}

func (h *EvaluationHandler) detailedCSV(c *fiber.Ctx) error {
	return h.sendCSV(c, export.DetailedName, export.WriteDetailed)
}

func (h *EvaluationHandler) sendCSV(c *fiber.Ctx, name func(string) string, write func(io.Writer, []grading.AggregateResult) error) error {
	batch, err := h.service.GetRun(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	var buf bytes.Buffer
	if err := write(&buf, batch.Results); err != nil {
		return h.handleError(c, err)
	}
	return utils.SendCSV(c, name(batch.RunID), buf.Bytes())
}

func (h *EvaluationHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidAssignmentType), errors.Is(err, rubric.ErrInvalidRubric):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRunNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPersistenceDisabled):
		return utils.SendError(c, fiber.StatusNotImplemented, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("evaluation request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "evaluation failed")
	}
}

func readRubric(header *multipart.FileHeader) (*rubric.Rubric, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("rubric: unable to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxRubricBytes+1))
	if err != nil {
		return nil, fmt.Errorf("rubric: unable to read upload: %w", err)
	}
	if len(data) > maxRubricBytes {
		return nil, &rubric.ConfigError{Field: "rubric", Reason: "document exceeds 1 MiB"}
	}
	return rubric.Parse(data)
}
