package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

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

// Service stores chat attachments in Cloudinary.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
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

// Upload stores an attachment under <folder>/<kind> and returns its secure URL.
// Identical content maps to the same public id, so re-uploads reuse the asset.
func (s *Service) Upload(ctx context.Context, name, kind, checksum string, reader io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:       attachmentFolder(s.folder, kind),
		PublicID:     buildPublicID(name, checksum),
		ResourceType: resourceType(kind),
		Overwrite:    api.Bool(false),
		Tags:         []string{"chat-attachment", kind},
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected attachment: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Str("kind", kind).Int("bytes", result.Bytes).Msg("attachment uploaded to cloudinary")

	return result.SecureURL, nil
}

func attachmentFolder(base, kind string) string {
	base = strings.Trim(base, "/")
	if kind == "" {
		return base
	}
	if base == "" {
		return kind
	}
	return base + "/" + kind
}

// resourceType maps an attachment kind to a Cloudinary resource type. Audio is stored as video.
func resourceType(kind string) string {
	switch kind {
	case "image":
		return "image"
	case "audio":
		return "video"
	default:
		return "raw"
	}
}

func buildPublicID(name, checksum string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "attachment"
	}

	suffix := checksum
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	if suffix == "" {
		suffix = fmt.Sprintf("%d", time.Now().Unix())
	}
	return fmt.Sprintf("%s-%s", base, suffix)
}
