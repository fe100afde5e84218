// Package ingest turns uploaded or on-disk files into submissions, rejecting anything the
// analyzers cannot read before it reaches them.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/gema-grader/internal/grading"
)

var (
	// ErrDisallowedExtension indicates the file extension is not on the allow-list.
	ErrDisallowedExtension = errors.New("file extension not allowed")
	// ErrNotText indicates the payload is binary despite an allowed extension.
	ErrNotText = errors.New("file is not plain text")
	// ErrFileTooLarge indicates the payload exceeded the configured limit.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrEmptyFile indicates there was nothing to evaluate after cleaning.
	ErrEmptyFile = errors.New("file is empty")
)

const defaultMaxBytes = 2 * 1024 * 1024

// IngestionError records why one file was rejected. It never aborts a batch.
type IngestionError struct {
	FileName string
	Err      error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("%s: %v", e.FileName, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Config controls what the ingestor accepts.
type Config struct {
	AllowedExtensions []string
	MaxBytes          int64
}

// Ingestor validates and cleans submission files.
type Ingestor struct {
	allowed  map[string]struct{}
	maxBytes int64
}

// New builds an ingestor. Extensions are matched case-insensitively.
func New(cfg Config) *Ingestor {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Ingestor{allowed: allowed, maxBytes: maxBytes}
}

// Allowed reports whether the file name carries an allowed extension.
func (i *Ingestor) Allowed(name string) bool {
	_, ok := i.allowed[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ReadFile validates and cleans one file. Returned errors are *IngestionError.
func (i *Ingestor) ReadFile(name string, r io.Reader) (grading.Submission, error) {
	base := filepath.Base(name)
	if !i.Allowed(base) {
		return grading.Submission{}, &IngestionError{FileName: base, Err: ErrDisallowedExtension}
	}

	data, err := io.ReadAll(io.LimitReader(r, i.maxBytes+1))
	if err != nil {
		return grading.Submission{}, &IngestionError{FileName: base, Err: fmt.Errorf("read: %w", err)}
	}
	if int64(len(data)) > i.maxBytes {
		return grading.Submission{}, &IngestionError{FileName: base, Err: ErrFileTooLarge}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return grading.Submission{}, &IngestionError{FileName: base, Err: ErrEmptyFile}
	}
	if !isText(data) {
		return grading.Submission{}, &IngestionError{FileName: base, Err: ErrNotText}
	}

	text := CleanText(data)
	if text == "" {
		return grading.Submission{}, &IngestionError{FileName: base, Err: ErrEmptyFile}
	}

	submission := grading.Submission{
		StudentID: StudentIDFromFileName(base),
		RawText:   text,
		FileName:  base,
	}
	if grading.IsCodeFile(base) {
		submission.LanguageHint = grading.DetectLanguage(base, "", text).String()
	}
	return submission, nil
}

// ReadFolder ingests every regular, non-hidden file in dir in name order. Only an unreadable
// directory is returned as an error; per-file problems are collected.
func (i *Ingestor) ReadFolder(dir string) ([]grading.Submission, []*IngestionError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read folder %s: %w", dir, err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })

	var (
		submissions []grading.Submission
		rejected    []*IngestionError
	)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		submission, err := i.readPath(filepath.Join(dir, entry.Name()))
		if err != nil {
			rejected = append(rejected, asIngestionError(entry.Name(), err))
			continue
		}
		submissions = append(submissions, submission)
	}
	return submissions, rejected, nil
}

// ReadMultipart ingests an upload batch.
func (i *Ingestor) ReadMultipart(files []*multipart.FileHeader) ([]grading.Submission, []*IngestionError) {
	var (
		submissions []grading.Submission
		rejected    []*IngestionError
	)
	for _, header := range files {
		if header == nil {
			continue
		}
		submission, err := i.readHeader(header)
		if err != nil {
			rejected = append(rejected, asIngestionError(header.Filename, err))
			continue
		}
		submissions = append(submissions, submission)
	}
	return submissions, rejected
}

func (i *Ingestor) readPath(path string) (grading.Submission, error) {
	if !i.Allowed(path) {
		return grading.Submission{}, &IngestionError{FileName: filepath.Base(path), Err: ErrDisallowedExtension}
	}
	file, err := os.Open(path)
	if err != nil {
		return grading.Submission{}, err
	}
	defer file.Close()
	return i.ReadFile(path, file)
}

func (i *Ingestor) readHeader(header *multipart.FileHeader) (grading.Submission, error) {
	if header.Size > i.maxBytes {
		return grading.Submission{}, &IngestionError{FileName: filepath.Base(header.Filename), Err: ErrFileTooLarge}
	}
	file, err := header.Open()
	if err != nil {
		return grading.Submission{}, err
	}
	defer file.Close()
	return i.ReadFile(header.Filename, file)
}

func asIngestionError(name string, err error) *IngestionError {
	var ingestionErr *IngestionError
	if errors.As(err, &ingestionErr) {
		return ingestionErr
	}
	return &IngestionError{FileName: filepath.Base(name), Err: err}
}

func isText(data []byte) bool {
	for mime := mimetype.Detect(data); mime != nil; mime = mime.Parent() {
		if mime.Is("text/plain") {
			return true
		}
	}
	return false
}

// StudentIDFromFileName derives the student id from the file name stem.
func StudentIDFromFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// CleanText strips a UTF-8 byte order mark, normalises line endings and trims the text.
// Bytes that are not valid UTF-8 are decoded as Latin-1.
func CleanText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		runes := make([]rune, len(data))
		for idx, b := range data {
			runes[idx] = rune(b)
		}
		text = string(runes)
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
