// Command grader evaluates a folder of submissions and writes the CSV reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/ingest"
	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "grader: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("grader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		_              = fs.String("config", "", "config file (optional), json format")
		folder         = fs.String("folder", "", "folder containing one file per student (required)")
		assignmentType = fs.String("type", string(grading.AssignmentCode), "assignment type: code, content or mixed")
		problem        = fs.String("problem", "", "problem statement text")
		problemFile    = fs.String("problem-file", "", "file holding the problem statement")
		referenceFile  = fs.String("reference-file", "", "optional reference text for content assignments")
		rubricPath     = fs.String("rubric", "", "rubric JSON document; the standard rubric is used when empty")
		out            = fs.String("out", "", "directory for the CSV reports; defaults to export.dir")
		workers        = fs.Int("workers", 0, "parallel analyses; defaults to grading.workers")
		verbose        = fs.Bool("verbose", false, "log at debug level")
	)
	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("GEMA_GRADER"),
	); err != nil {
		return err
	}

	if strings.TrimSpace(*folder) == "" {
		return errors.New("-folder is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).Level(level).With().Timestamp().Logger()

	statement, err := textOrFile(*problem, *problemFile)
	if err != nil {
		return err
	}
	reference, err := textOrFile("", *referenceFile)
	if err != nil {
		return err
	}

	r := rubric.Default()
	path := *rubricPath
	if path == "" {
		path = cfg.RubricPath
	}
	if path != "" {
		if r, err = rubric.LoadFile(path); err != nil {
			return err
		}
	}

	exportDir := *out
	if exportDir == "" {
		exportDir = cfg.ExportDir
	}
	poolSize := *workers
	if poolSize <= 0 {
		poolSize = cfg.Workers
	}

	ingestor := ingest.New(ingest.Config{AllowedExtensions: cfg.AllowedExtensions, MaxBytes: cfg.MaxFileBytes})
	submissions, rejected, err := ingestor.ReadFolder(*folder)
	if err != nil {
		return err
	}

	svc := service.NewEvaluationService(service.EvaluationOptions{
		Policy:             cfg.GradingPolicy(),
		Rubric:             r,
		Enhancer:           ai.NewEnhancer(cfg.AIConfig(), nil, logger),
		EnhancementTimeout: cfg.AITimeout,
		Workers:            poolSize,
		ExportDir:          exportDir,
	}, logger)

	batch, err := svc.EvaluateSubmissions(ctx, service.BatchRequest{
		AssignmentType:   grading.AssignmentType(strings.ToLower(strings.TrimSpace(*assignmentType))),
		ProblemStatement: statement,
		ReferenceText:    reference,
		Submissions:      submissions,
		Rejected:         rejected,
	})
	if err != nil {
		return err
	}

	printBatch(stdout, batch)
	return nil
}

func textOrFile(text, path string) (string, error) {
	if path == "" {
		return strings.TrimSpace(text), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return ingest.CleanText(data), nil
}

func printBatch(w io.Writer, batch service.BatchResult) {
	fmt.Fprintf(w, "run %s: %d student(s), %d rejected\n", batch.RunID, len(batch.Results), len(batch.Rejected))
	for _, result := range batch.Results {
		fmt.Fprintf(w, "%-24s %6.2f / %.0f\n", result.StudentID, result.FinalScore, result.MaxScore)
	}
	for _, rejected := range batch.Rejected {
		fmt.Fprintf(w, "rejected %s: %s\n", rejected.FileName, rejected.Reason)
	}
	if batch.Files.Summary != "" {
		fmt.Fprintf(w, "summary: %s\ndetailed: %s\n", batch.Files.Summary, batch.Files.Detailed)
	}
}
