package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dronehire/realtime-service/internal/audit"
	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/pkg/log"
	"github.com/dronehire/realtime-service/pkg/storage"
)

var (
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

const defaultContentType = "application/octet-stream"

var (
	extPattern  = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
	namePattern = regexp.MustCompile(`^[0-9A-Z]{26}(\.[a-z0-9]{1,10})?$`)
)

// Attachments stores chat files per booking. Access follows the booking
// room rules: the owner and any operator or admin.
type Attachments struct {
	svc   *Service
	store storage.Storage
	cfg   config.AttachmentConfig
}

func NewAttachments(svc *Service, store storage.Storage, cfg config.AttachmentConfig) *Attachments {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	return &Attachments{svc: svc, store: store, cfg: cfg}
}

func (a *Attachments) Upload(ctx context.Context, caller *domain.Participant, bookingID int64, filename, contentType string, size int64, r io.Reader) (*domain.Attachment, error) {
	if _, err := a.svc.accessibleBooking(ctx, caller, bookingID); err != nil {
		return nil, err
	}
	if size > a.cfg.MaxUploadSize {
		return nil, ErrAttachmentTooLarge
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	if contentType == "" || contentType == defaultContentType {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		} else {
			contentType = defaultContentType
		}
	}

	now := a.svc.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate attachment id: %w", err)
	}
	name := id.String() + ext
	key := attachmentKey(bookingID, name)

	if err := a.store.Put(ctx, key, io.LimitReader(r, a.cfg.MaxUploadSize), size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}

	url, err := a.store.URL(ctx, key, a.cfg.URLExpiry)
	if err != nil {
		if derr := a.store.Delete(ctx, key); derr != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(derr).Str("key", key).Msg("failed to remove orphaned attachment")
		}
		return nil, fmt.Errorf("failed to build attachment url: %w", err)
	}
	if url == "" {
		url = fmt.Sprintf("/api/v1/bookings/%d/attachments/%s", bookingID, name)
	}

	msgType := domain.MessageTypeFile
	if strings.HasPrefix(contentType, "image/") {
		msgType = domain.MessageTypeImage
	}

	audit.LogWithDetail(ctx, audit.ActionUploadFile, caller.ID, key, "attachment uploaded")
	return &domain.Attachment{
		BookingID:   bookingID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		MessageType: msgType,
		URL:         url,
		UploadedBy:  caller.ID,
		UploadedAt:  now,
	}, nil
}

// Open returns an attachment's content, or a direct URL when the store can
// serve it itself. Exactly one of the reader and the URL is set.
func (a *Attachments) Open(ctx context.Context, caller *domain.Participant, bookingID int64, name string) (io.ReadCloser, *storage.ObjectInfo, string, error) {
	if _, err := a.svc.accessibleBooking(ctx, caller, bookingID); err != nil {
		return nil, nil, "", err
	}
	if !namePattern.MatchString(name) {
		return nil, nil, "", ErrAttachmentNotFound
	}
	key := attachmentKey(bookingID, name)

	url, err := a.store.URL(ctx, key, a.cfg.URLExpiry)
	if err != nil {
		return nil, nil, "", err
	}
	if url != "" {
		return nil, nil, url, nil
	}

	rc, info, err := a.store.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, "", ErrAttachmentNotFound
	}
	if err != nil {
		return nil, nil, "", err
	}
	return rc, info, "", nil
}

func attachmentKey(bookingID int64, name string) string {
	return fmt.Sprintf("bookings/%d/%s", bookingID, name)
}
