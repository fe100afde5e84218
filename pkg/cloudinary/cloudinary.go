package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether every credential is present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Service stores exported reports on Cloudinary as raw assets.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Service{
		client: cld,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// UploadReport stores one CSV report under the run's folder and returns a secure URL.
// Re-uploading the same run and name overwrites the previous asset.
func (s *Service) UploadReport(ctx context.Context, runID, name string, reader io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:         strings.Trim(strings.Trim(s.folder, "/")+"/"+sanitizeSegment(runID), "/"),
		PublicID:       buildPublicID(name),
		ResourceType:   "raw",
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload report: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Str("run_id", runID).Msg("report uploaded to cloudinary")

	return result.SecureURL, nil
}

// buildPublicID keeps the extension because raw assets are served by their public id.
func buildPublicID(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := sanitizeSegment(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if base == "" {
		base = "report"
	}
	return base + ext
}

func sanitizeSegment(value string) string {
	value = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '-'
	}, value)
	return strings.Trim(value, "-")
}
