package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/repository"
)

const (
	maxMetadataEntries  = 32
	maxMetadataKeyLen   = 64
	maxMetadataValueLen = 1024
	maxFilenameLen      = 255
)

// NotarizationStore is the persistence needed for notarizations.
type NotarizationStore interface {
	CreateNotarization(ctx context.Context, n *model.Notarization) error
	GetNotarization(ctx context.Context, id string) (*model.Notarization, error)
	FindCompletedNotarization(ctx context.Context, sha256Hash, cid string) (*model.Notarization, error)
	ListNotarizationsByUserID(ctx context.Context, userID int64, limit int) ([]*model.Notarization, error)
	CountNotarizationsByUserID(ctx context.Context, userID int64) (int, error)
}

// Anchorer records a content digest in an external ledger and returns its
// reference.
type Anchorer interface {
	Anchor(ctx context.Context, sha256Hex, cid string) (string, error)
}

// LocalAnchorer issues local references without contacting any ledger.
// Evidence produced with it is not blockchain-anchored.
type LocalAnchorer struct{}

// Anchor returns "basalt-local:<ulid>".
func (LocalAnchorer) Anchor(context.Context, string, string) (string, error) {
	return "basalt-local:" + ulid.Make().String(), nil
}

// NotarizeInput is one file submitted for notarization.
type NotarizeInput struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Metadata    map[string]string
}

// NotarizationService turns uploaded files into provenance records.
type NotarizationService struct {
	store      NotarizationStore
	tracker    *quota.Tracker
	anchorer   Anchorer
	gatewayURL string
	logger     *slog.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

// NewNotarizationService creates a new NotarizationService.
func NewNotarizationService(store NotarizationStore, tracker *quota.Tracker, anchorer Anchorer, gatewayURL string, logger *slog.Logger, recorder metrics.Recorder) *NotarizationService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if anchorer == nil {
		anchorer = LocalAnchorer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotarizationService{
		store:      store,
		tracker:    tracker,
		anchorer:   anchorer,
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		logger:     logger.With("component", "notarize"),
		metrics:    recorder,
		now:        time.Now,
	}
}

// GatewayURL is the IPFS gateway used in evidence links.
func (s *NotarizationService) GatewayURL() string {
	return s.gatewayURL
}

// Notarize reserves one unit of quota, fingerprints the file and stores the
// record. The reservation is released if the notarization cannot complete.
func (s *NotarizationService) Notarize(ctx context.Context, user *model.User, in NotarizeInput) (*model.Notarization, error) {
	if err := validateMetadata(in.Metadata); err != nil {
		return nil, err
	}

	if err := s.tracker.Reserve(ctx, user); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			s.metrics.IncQuotaRejected()
		}
		return nil, err
	}

	n, err := s.process(ctx, user, in)
	if err != nil {
		if releaseErr := s.tracker.Release(context.WithoutCancel(ctx), user); releaseErr != nil {
			s.logger.Error("failed to release quota", "user_id", user.ID, "error", releaseErr)
		}
		s.metrics.IncNotarization(string(model.NotarizationFailed))
		return nil, err
	}

	s.metrics.IncNotarization(string(model.NotarizationCompleted))
	s.logger.Info("file notarized",
		"user_id", user.ID,
		"notarization_id", n.ID,
		"size", n.FileSize,
	)
	return n, nil
}

func (s *NotarizationService) process(ctx context.Context, user *model.User, in NotarizeInput) (*model.Notarization, error) {
	h := sha256.New()
	size, err := io.Copy(h, in.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if size == 0 {
		return nil, ErrEmptyFile
	}
	digest := h.Sum(nil)
	shaHex := hex.EncodeToString(digest)
	cid := ContentCID(digest)

	n := &model.Notarization{
		ID:               ulid.Make().String(),
		UserID:           user.ID,
		OriginalFilename: cleanFilename(in.Filename),
		FileType:         in.ContentType,
		FileSize:         size,
		SHA256Hash:       shaHex,
		IPFSCID:          cid,
		SignatureStatus:  model.SignatureUnsigned,
		Status:           model.NotarizationCompleted,
		Metadata:         in.Metadata,
		CreatedAt:        s.now().UTC(),
	}

	anchorRef, err := s.anchorer.Anchor(ctx, shaHex, cid)
	if err != nil {
		s.recordFailure(ctx, n, err)
		return nil, fmt.Errorf("%w: anchor: %v", ErrNotarizationFailed, err)
	}
	n.AnchorRef = anchorRef

	if err := s.store.CreateNotarization(ctx, n); err != nil {
		return nil, fmt.Errorf("store notarization: %w", err)
	}
	return n, nil
}

// recordFailure keeps an audit row for an attempt that did not complete.
func (s *NotarizationService) recordFailure(ctx context.Context, n *model.Notarization, cause error) {
	failed := *n
	failed.Status = model.NotarizationFailed
	if err := s.store.CreateNotarization(context.WithoutCancel(ctx), &failed); err != nil {
		s.logger.Error("failed to record failed notarization", "error", err, "cause", cause)
	}
}

// Evidence renders the client-facing proof for n.
func (s *NotarizationService) Evidence(n *model.Notarization) model.Evidence {
	return n.Evidence(s.gatewayURL)
}

// Verify reports the completed record matching a content hash and CID.
func (s *NotarizationService) Verify(ctx context.Context, sha256Hex, cid string) (*model.Notarization, error) {
	sha256Hex = strings.ToLower(strings.TrimSpace(sha256Hex))
	cid = strings.TrimSpace(cid)
	if sha256Hex == "" || cid == "" {
		return nil, fmt.Errorf("%w: sha256_hash and ipfs_cid are required", ErrInvalidInput)
	}

	n, err := s.store.FindCompletedNotarization(ctx, sha256Hex, cid)
	if err != nil {
		if errors.Is(err, repository.ErrNotarizationNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

// Get returns one of the user's notarizations.
func (s *NotarizationService) Get(ctx context.Context, userID int64, id string) (*model.Notarization, error) {
	n, err := s.store.GetNotarization(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotarizationNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrNotFound
	}
	return n, nil
}

// List returns the user's most recent notarizations.
func (s *NotarizationService) List(ctx context.Context, userID int64, limit int) ([]*model.Notarization, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListNotarizationsByUserID(ctx, userID, limit)
}

// Count returns the user's total number of notarizations.
func (s *NotarizationService) Count(ctx context.Context, userID int64) (int, error) {
	return s.store.CountNotarizationsByUserID(ctx, userID)
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	if len(name) > maxFilenameLen {
		n := maxFilenameLen
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}
		name = name[:n]
	}
	return name
}

func validateMetadata(m map[string]string) error {
	if len(m) > maxMetadataEntries {
		return fmt.Errorf("%w: at most %d metadata entries", ErrInvalidInput, maxMetadataEntries)
	}
	for k, v := range m {
		if k == "" || len(k) > maxMetadataKeyLen {
			return fmt.Errorf("%w: metadata key %q", ErrInvalidInput, k)
		}
		if len(v) > maxMetadataValueLen {
			return fmt.Errorf("%w: metadata value for %q too long", ErrInvalidInput, k)
		}
	}
	return nil
}
