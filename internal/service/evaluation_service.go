package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/export"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/ingest"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

var (
	// ErrInvalidAssignmentType indicates a batch that is not code, content or mixed.
	ErrInvalidAssignmentType = errors.New("invalid assignment type")
	// ErrRunNotFound indicates the requested run does not exist.
	ErrRunNotFound = errors.New("evaluation run not found")
	// ErrPersistenceDisabled indicates runs cannot be looked up because no database is configured.
	ErrPersistenceDisabled = errors.New("evaluation persistence is not configured")
	// ErrDuplicateSubmission marks a second file occupying the same student slot.
	ErrDuplicateSubmission = errors.New("duplicate submission for student")
)

const (
	tracerName                = "github.com/noah-isme/gema-grader/internal/service/evaluation"
	defaultEnhancementTimeout = 8 * time.Second
)

// BatchRequest is one batch of ingested submissions sharing a problem statement.
type BatchRequest struct {
	AssignmentType   grading.AssignmentType
	ProblemStatement string
	ReferenceText    string
	// Rubric overrides the service default when set.
	Rubric      *rubric.Rubric
	Submissions []grading.Submission
	Rejected    []*ingest.IngestionError
}

// RejectedFile is a file that never reached the analyzers.
type RejectedFile struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of one evaluated batch, ordered by student id.
type BatchResult struct {
	RunID               string
	AssignmentType      grading.AssignmentType
	ProblemStatement    string
	RubricName          string
	RubricVersion       string
	Results             []grading.AggregateResult
	Rejected            []RejectedFile
	EnhancementFailures int
	Files               export.Files
	SummaryURL          string
	DetailedURL         string
	Persisted           bool
	CreatedAt           time.Time
}

// ByStudent keys the results by student id.
func (b BatchResult) ByStudent() map[string]grading.AggregateResult {
	out := make(map[string]grading.AggregateResult, len(b.Results))
	for _, result := range b.Results {
		out[result.StudentID] = result
	}
	return out
}

// MeanFinalScore averages the final scores, or 0 for an empty batch.
func (b BatchResult) MeanFinalScore() float64 {
	if len(b.Results) == 0 {
		return 0
	}
	total := 0.0
	for _, result := range b.Results {
		total += result.FinalScore
	}
	return total / float64(len(b.Results))
}

// EvaluationService routes batches through the analyzers and the aggregator.
type EvaluationService interface {
	EvaluateSubmissions(ctx context.Context, req BatchRequest) (BatchResult, error)
	GetRun(ctx context.Context, id string) (BatchResult, error)
	ListRuns(ctx context.Context, limit int) ([]BatchResult, error)
}

// EvaluationOptions wires the service. Only Policy is required; every other
// collaborator is optional and skipped when nil or empty.
type EvaluationOptions struct {
	Policy             grading.Policy
	Rubric             *rubric.Rubric
	Enhancer           ai.Enhancer
	EnhancementTimeout time.Duration
	Workers            int
	ExportDir          string
	Repository         repository.EvaluationRepository
	Events             EventPublisher
	Reports            ReportStorage
}

type evaluationService struct {
	rubric     *rubric.Rubric
	code       *grading.CodeAnalyzer
	content    *grading.ContentAnalyzer
	aggregator *grading.Aggregator
	enhancer   ai.Enhancer
	timeout    time.Duration
	workers    int
	exportDir  string
	repo       repository.EvaluationRepository
	events     EventPublisher
	reports    ReportStorage
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEvaluationService constructs the evaluation orchestrator.
func NewEvaluationService(opts EvaluationOptions, logger zerolog.Logger) EvaluationService {
	r := opts.Rubric
	if r == nil {
		r = rubric.Default()
	}
	enhancer := opts.Enhancer
	if enhancer == nil {
		enhancer = ai.Disabled{}
	}
	timeout := opts.EnhancementTimeout
	if timeout <= 0 {
		timeout = defaultEnhancementTimeout
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	return &evaluationService{
		rubric:     r,
		code:       grading.NewCodeAnalyzer(opts.Policy),
		content:    grading.NewContentAnalyzer(opts.Policy),
		aggregator: grading.NewAggregator(opts.Policy),
		enhancer:   enhancer,
		timeout:    timeout,
		workers:    workers,
		exportDir:  opts.ExportDir,
		repo:       opts.Repository,
		events:     opts.Events,
		reports:    opts.Reports,
		logger:     logger.With().Str("component", "evaluation_service").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

type batchPlan struct {
	assignment grading.AssignmentType
	rubric     *rubric.Rubric
	weights    []grading.DimensionWeight
	codeDim    rubric.Dimension
	contentDim rubric.Dimension
	useCode    bool
	useContent bool
	problem    string
	reference  string
}

type studentUnit struct {
	studentID string
	code      *grading.Submission
	content   *grading.Submission
}

func (s *evaluationService) EvaluateSubmissions(ctx context.Context, req BatchRequest) (BatchResult, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "evaluation.batch")
	defer span.End()
	started := s.now()

	plan, err := s.plan(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_batch")
		return BatchResult{}, err
	}
	span.SetAttributes(
		attribute.String("evaluation.assignment_type", string(plan.assignment)),
		attribute.Int("evaluation.submissions", len(req.Submissions)),
	)

	rejected := rejectedFiles(req.Rejected)
	units, duplicates := s.group(plan, req.Submissions)
	rejected = append(rejected, duplicates...)

	results, err := s.analyze(ctx, plan, units)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis_cancelled")
		return BatchResult{}, err
	}
	failures := s.enhance(ctx, plan, units, results)

	batch := BatchResult{
		RunID:               s.newID(),
		AssignmentType:      plan.assignment,
		ProblemStatement:    req.ProblemStatement,
		RubricName:          plan.rubric.Name(),
		RubricVersion:       plan.rubric.Version(),
		Results:             results,
		Rejected:            rejected,
		EnhancementFailures: failures,
		CreatedAt:           started.UTC(),
	}
	s.record(batch)

	if s.exportDir != "" {
		files, err := export.WriteFiles(s.exportDir, batch.RunID, batch.Results)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "export_failed")
			return BatchResult{}, fmt.Errorf("export results: %w", err)
		}
		batch.Files = files
		s.uploadReports(ctx, &batch)
	}

	batch.Persisted = s.persist(ctx, batch)
	s.publish(ctx, batch)

	elapsed := s.now().Sub(started)
	observability.BatchDuration().WithLabelValues(string(plan.assignment)).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("evaluation.run_id", batch.RunID),
		attribute.Int("evaluation.results", len(batch.Results)),
		attribute.Int("evaluation.rejected", len(batch.Rejected)),
	)
	s.logger.Info().
		Str("run_id", batch.RunID).
		Str("assignment_type", string(plan.assignment)).
		Int("students", len(batch.Results)).
		Int("rejected", len(batch.Rejected)).
		Int("enhancement_failures", failures).
		Dur("elapsed", elapsed).
		Msg("batch evaluated")

	return batch, nil
}

func (s *evaluationService) GetRun(ctx context.Context, id string) (BatchResult, error) {
	if s.repo == nil {
		return BatchResult{}, ErrPersistenceDisabled
	}
	run, err := s.repo.GetRun(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BatchResult{}, ErrRunNotFound
		}
		return BatchResult{}, fmt.Errorf("load evaluation run: %w", err)
	}
	return fromRunModel(run)
}

func (s *evaluationService) ListRuns(ctx context.Context, limit int) ([]BatchResult, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluation runs: %w", err)
	}
	out := make([]BatchResult, 0, len(runs))
	for _, run := range runs {
		batch, err := fromRunModel(run)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// plan scopes the rubric to the assignment type. It is the only step that can reject a batch.
func (s *evaluationService) plan(req BatchRequest) (batchPlan, error) {
	if !req.AssignmentType.Valid() {
		return batchPlan{}, fmt.Errorf("%w: %q", ErrInvalidAssignmentType, req.AssignmentType)
	}
	base := req.Rubric
	if base == nil {
		base = s.rubric
	}

	scoped := base
	var err error
	switch req.AssignmentType {
	case grading.AssignmentCode:
		scoped, err = base.Single(rubric.DimensionCode)
	case grading.AssignmentContent:
		scoped, err = base.Single(rubric.DimensionContent)
	}
	if err != nil {
		return batchPlan{}, err
	}

	plan := batchPlan{
		assignment: req.AssignmentType,
		rubric:     scoped,
		weights:    grading.WeightsFor(scoped),
		problem:    req.ProblemStatement,
		reference:  req.ReferenceText,
	}
	plan.codeDim, plan.useCode = scoped.Dimension(rubric.DimensionCode)
	plan.contentDim, plan.useContent = scoped.Dimension(rubric.DimensionContent)
	if req.AssignmentType == grading.AssignmentMixed && (!plan.useCode || !plan.useContent) {
		return batchPlan{}, &rubric.ConfigError{Field: "dimensions", Reason: "mixed assignments need both code and content dimensions"}
	}
	return plan, nil
}

// group pairs files into one unit per student. In mixed mode code files and text files
// sharing a student id land in the same unit.
func (s *evaluationService) group(plan batchPlan, submissions []grading.Submission) ([]studentUnit, []RejectedFile) {
	sorted := append([]grading.Submission(nil), submissions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ResolvedStudentID(), sorted[j].ResolvedStudentID()
		if a != b {
			return a < b
		}
		return sorted[i].FileName < sorted[j].FileName
	})

	var (
		units    []studentUnit
		rejected []RejectedFile
		index    = make(map[string]int)
	)
	for _, sub := range sorted {
		id := sub.ResolvedStudentID()
		pos, ok := index[id]
		if !ok {
			pos = len(units)
			index[id] = pos
			units = append(units, studentUnit{studentID: id})
		}

		slot := &units[pos].code
		switch plan.assignment {
		case grading.AssignmentContent:
			slot = &units[pos].content
		case grading.AssignmentMixed:
			if !isCodeSubmission(sub) {
				slot = &units[pos].content
			}
		}
		if *slot != nil {
			rejected = append(rejected, RejectedFile{FileName: sub.FileName, Reason: ErrDuplicateSubmission.Error()})
			observability.RejectedFiles().WithLabelValues("duplicate").Inc()
			continue
		}
		submission := sub
		*slot = &submission
	}
	return units, rejected
}

func isCodeSubmission(sub grading.Submission) bool {
	if strings.TrimSpace(sub.LanguageHint) != "" {
		return true
	}
	return grading.IsCodeFile(sub.FileName)
}

// analyze runs the static analyzers over every unit on a bounded pool. Each goroutine only
// writes its own slot, so the result order matches the unit order.
func (s *evaluationService) analyze(ctx context.Context, plan batchPlan, units []studentUnit) ([]grading.AggregateResult, error) {
	results := make([]grading.AggregateResult, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.evaluateUnit(gctx, plan, units[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *evaluationService) evaluateUnit(ctx context.Context, plan batchPlan, unit studentUnit) grading.AggregateResult {
	_, span := otel.Tracer(tracerName).Start(ctx, "evaluation.submission")
	span.SetAttributes(attribute.String("evaluation.student_id", unit.studentID))
	defer span.End()

	outputs := make([]grading.AnalyzerOutput, 0, 2)
	files := make([]string, 0, 2)
	if unit.code != nil && plan.useCode {
		lang := grading.DetectLanguage(unit.code.FileName, unit.code.LanguageHint, unit.code.RawText)
		out := s.code.Evaluate(unit.code.RawText, lang, plan.problem, plan.codeDim)
		if out.Degraded {
			s.logger.Debug().Str("student_id", unit.studentID).Str("file", unit.code.FileName).Msg("code analysis degraded to pattern heuristics")
		}
		outputs = append(outputs, out)
		files = append(files, unit.code.FileName)
	}
	if unit.content != nil && plan.useContent {
		outputs = append(outputs, s.content.Evaluate(unit.content.RawText, plan.problem, plan.reference, plan.contentDim))
		files = append(files, unit.content.FileName)
	}

	result := s.aggregator.Evaluate(outputs, plan.weights)
	result.StudentID = unit.studentID
	result.FileName = strings.Join(files, ";")
	result.AssignmentType = plan.assignment

	span.SetAttributes(
		attribute.Float64("evaluation.final_score", result.FinalScore),
		attribute.Bool("evaluation.degraded", result.Degraded),
	)
	return result
}

// enhance runs after every static result exists. A failed or slow call only loses the
// optional enhancement for that student; scores are never touched.
func (s *evaluationService) enhance(ctx context.Context, plan batchPlan, units []studentUnit, results []grading.AggregateResult) int {
	if _, disabled := s.enhancer.(ai.Disabled); disabled {
		observability.EnhancementOutcomes().WithLabelValues("disabled").Add(float64(len(results)))
		return 0
	}

	var failures atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range results {
		g.Go(func() error {
			input := enhancementInput(plan, units[i], results[i])
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			reply, err := s.enhancer.Enhance(callCtx, input)
			if err != nil {
				failures.Add(1)
				observability.EnhancementOutcomes().WithLabelValues("unavailable").Inc()
				s.logger.Warn().Err(err).Str("student_id", results[i].StudentID).Msg("feedback enhancement unavailable; keeping static feedback")
				return nil
			}
			results[i].Enhancement = &grading.Enhancement{
				Summary:     reply.Summary,
				Corrections: reply.Corrections,
				Strengths:   reply.Strengths,
			}
			observability.EnhancementOutcomes().WithLabelValues("enhanced").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(failures.Load())
}

func enhancementInput(plan batchPlan, unit studentUnit, result grading.AggregateResult) ai.EnhancementInput {
	parts := make([]string, 0, 2)
	language := ""
	if unit.code != nil {
		parts = append(parts, unit.code.RawText)
		language = grading.DetectLanguage(unit.code.FileName, unit.code.LanguageHint, unit.code.RawText).String()
	}
	if unit.content != nil {
		parts = append(parts, unit.content.RawText)
	}
	return ai.EnhancementInput{
		StudentID:         result.StudentID,
		AssignmentType:    string(plan.assignment),
		Language:          language,
		ProblemStatement:  plan.problem,
		SubmissionExcerpt: ai.Excerpt(strings.Join(parts, "\n\n")),
		DraftFeedback:     result.CombinedFeedback(),
	}
}

func (s *evaluationService) record(batch BatchResult) {
	label := string(batch.AssignmentType)
	for _, result := range batch.Results {
		observability.Evaluations().WithLabelValues(label).Inc()
		if result.Degraded {
			observability.DegradedAnalyses().WithLabelValues(label).Inc()
		}
	}
}

func (s *evaluationService) uploadReports(ctx context.Context, batch *BatchResult) {
	if s.reports == nil {
		return
	}
	upload := func(path string) string {
		file, err := os.Open(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to open report for upload")
			return ""
		}
		defer file.Close()

		url, err := s.reports.UploadReport(ctx, batch.RunID, filepath.Base(path), file)
		if err != nil {
			s.logger.Warn().Err(err).Str("run_id", batch.RunID).Str("path", path).Msg("failed to upload report")
			return ""
		}
		return url
	}
	batch.SummaryURL = upload(batch.Files.Summary)
	batch.DetailedURL = upload(batch.Files.Detailed)
}

func (s *evaluationService) persist(ctx context.Context, batch BatchResult) bool {
	if s.repo == nil {
		return false
	}
	run, err := toRunModel(batch)
	if err == nil {
		err = s.repo.CreateRun(ctx, &run)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", batch.RunID).Msg("failed to persist evaluation run")
		return false
	}
	return true
}

func (s *evaluationService) publish(ctx context.Context, batch BatchResult) {
	if s.events == nil {
		return
	}
	event := BatchCompletedEvent{
		RunID:               batch.RunID,
		AssignmentType:      string(batch.AssignmentType),
		StudentCount:        len(batch.Results),
		RejectedCount:       len(batch.Rejected),
		EnhancementFailures: batch.EnhancementFailures,
		MeanFinalScore:      batch.MeanFinalScore(),
		SummaryURL:          batch.SummaryURL,
		DetailedURL:         batch.DetailedURL,
		CompletedAt:         s.now().UTC(),
	}
	if err := s.events.PublishBatchCompleted(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("run_id", batch.RunID).Msg("failed to publish batch event")
	}
}

func rejectedFiles(errs []*ingest.IngestionError) []RejectedFile {
	out := make([]RejectedFile, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		reason := "unreadable file"
		if err.Err != nil {
			reason = err.Err.Error()
		}
		observability.RejectedFiles().WithLabelValues(rejectionReason(err)).Inc()
		out = append(out, RejectedFile{FileName: err.FileName, Reason: reason})
	}
	return out
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrDisallowedExtension):
		return "extension"
	case errors.Is(err, ingest.ErrNotText):
		return "binary"
	case errors.Is(err, ingest.ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ingest.ErrEmptyFile):
		return "empty"
	default:
		return "unreadable"
	}
}
