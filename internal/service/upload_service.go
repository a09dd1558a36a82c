package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

var (
	// ErrUploadMissing indicates the request carried no file.
	ErrUploadMissing = fmt.Errorf("%w: file is required", ErrValidation)
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
)

// Attachment kinds.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// allowedAttachments maps each accepted MIME type to its attachment kind.
var allowedAttachments = []struct {
	mime string
	kind string
}{
	{"image/png", AttachmentImage},
	{"image/jpeg", AttachmentImage},
	{"image/gif", AttachmentImage},
	{"image/webp", AttachmentImage},
	{"audio/mpeg", AttachmentAudio},
	{"audio/ogg", AttachmentAudio},
	{"audio/wav", AttachmentAudio},
	{"audio/webm", AttachmentAudio},
	{"audio/mp4", AttachmentAudio},
	{"audio/x-m4a", AttachmentAudio},
	{"application/pdf", AttachmentFile},
}

// FileStorage abstracts attachment destinations.
type FileStorage interface {
	Upload(ctx context.Context, name, kind, checksum string, reader io.Reader) (string, error)
}

// UploadService validates attachments and stores them, returning a reference URL.
type UploadService interface {
	Upload(ctx context.Context, file *multipart.FileHeader, userID string) (dto.UploadResponse, error)
}

type uploadService struct {
	storage FileStorage
	repo    repository.UploadRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewUploadService constructs an upload service.
func NewUploadService(storage FileStorage, repo repository.UploadRepository, maxSizeMB int, logger zerolog.Logger) UploadService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &uploadService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "upload_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/upload"),
	}
}

func (s *uploadService) Upload(ctx context.Context, file *multipart.FileHeader, userID string) (dto.UploadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "upload.store", trace.WithAttributes(
		attribute.Int64("upload.max_bytes", s.maxSize),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		span.RecordError(ErrUploadMissing)
		span.SetStatus(codes.Error, "validation failed")
		return dto.UploadResponse{}, ErrUploadMissing
	}
	span.SetAttributes(
		attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("upload.request_size", file.Size),
	)

	if file.Size > s.maxSize {
		return dto.UploadResponse{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.UploadResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.UploadResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		return dto.UploadResponse{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	detected := mimetype.Detect(buf.Bytes())
	mimeType, kind, ok := classifyAttachment(detected)
	span.SetAttributes(attribute.String("upload.detected_mime", detected.String()))
	if !ok {
		return dto.UploadResponse{}, s.reject(span, "type", ErrUploadTypeNotAllowed)
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	sanitizedName := sanitizeFileName(file.Filename, detected.Extension())

	existing, err := s.repo.FindByChecksum(ctx, userID, checksum)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "reused")
		return newUploadResponse(existing), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		span.RecordError(err)
		return dto.UploadResponse{}, fmt.Errorf("lookup upload: %w", err)
	}

	url, err := s.storage.Upload(ctx, sanitizedName, kind, checksum, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.UploadResponse{}, err
	}

	record := models.UploadRecord{
		UserID:    userID,
		FileName:  sanitizedName,
		URL:       url,
		MimeType:  mimeType,
		Kind:      kind,
		SizeBytes: int64(buf.Len()),
		Checksum:  checksum,
	}
	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.UploadResponse{}, err
	}

	observability.UploadRequests().WithLabelValues(kind).Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().Str("user_id", userID).Str("kind", kind).Int64("size_bytes", record.SizeBytes).Msg("attachment stored")

	return newUploadResponse(record), nil
}

func (s *uploadService) reject(span trace.Span, reason string, err error) error {
	observability.UploadRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

// classifyAttachment returns the canonical MIME type and kind of an accepted attachment.
func classifyAttachment(detected *mimetype.MIME) (string, string, bool) {
	for _, allowed := range allowedAttachments {
		if detected.Is(allowed.mime) {
			return allowed.mime, allowed.kind, true
		}
	}
	return "", "", false
}

func newUploadResponse(record models.UploadRecord) dto.UploadResponse {
	return dto.UploadResponse{
		URL:       record.URL,
		SizeBytes: record.SizeBytes,
		MimeType:  record.MimeType,
		Kind:      record.Kind,
		Checksum:  record.Checksum,
		FileName:  record.FileName,
	}
}

func sanitizeFileName(name, detectedExt string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("upload-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = detectedExt
	}
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}
