// Package ingest accepts code archives, stores them and starts their report
// generation.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/pkg/common/logger"
)

var (
	// ErrInvalidSource wraps rejected repository URLs.
	ErrInvalidSource = errors.New("invalid archive source")
	// ErrFetchFailed wraps failures to download a remote archive.
	ErrFetchFailed = errors.New("failed to fetch remote archive")
)

// TaskRunner creates report tasks and starts their generation. It is
// satisfied by the report orchestrator.
type TaskRunner interface {
	CreateTask(ctx context.Context, taskID string) error
	RunInBackground(ctx context.Context, taskID string) error
}

// UploadRequest is an archive received from a client.
type UploadRequest struct {
	Filename string
	Size     int64
	Body     io.ReaderAt
}

// UploadResult identifies the stored archive and its report task.
type UploadResult struct {
	TaskID     string
	ObjectName string
	Bucket     string
}

// Service implements the upload flows. Nothing is dispatched unless the
// archive was stored and its task created.
type Service struct {
	blobs          archive.BlobStore
	fetcher        archive.Fetcher
	tasks          TaskRunner
	maxUploadBytes int64
	newID          func() string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service. A non-positive maxUploadBytes disables the
// size limit.
func NewService(
	blobs archive.BlobStore,
	fetcher archive.Fetcher,
	tasks TaskRunner,
	maxUploadBytes int64,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		blobs:          blobs,
		fetcher:        fetcher,
		tasks:          tasks,
		maxUploadBytes: maxUploadBytes,
		newID:          uuid.NewString,
		logger:         logger.With("component", "ingest_service"),
		tracer:         tracer,
	}
}

// Upload validates and stores a client supplied archive, then starts its
// report generation.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest_service.upload",
		trace.WithAttributes(
			attribute.String("filename", req.Filename),
			attribute.Int64("size", req.Size),
		))
	defer span.End()

	res, err := s.ingest(ctx, req.Filename, req.Body, req.Size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return UploadResult{}, err
	}
	span.SetAttributes(attribute.String("task_id", res.TaskID))

	return res, nil
}

// UploadFromGitHub downloads a repository branch and ingests it like an
// upload. The stored archive records "{owner}-{repo}-{branch}.zip" as its
// original filename.
func (s *Service) UploadFromGitHub(ctx context.Context, repoURL, branch string) (UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest_service.upload_from_github",
		trace.WithAttributes(
			attribute.String("repo_url", repoURL),
			attribute.String("branch", branch),
		))
	defer span.End()

	src, err := s.fetcher.ParseSource(repoURL, branch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid repository url")
		return UploadResult{}, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	data, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		if errors.Is(err, archive.ErrTooLarge) {
			return UploadResult{}, err
		}
		return UploadResult{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	span.AddEvent("archive_fetched", trace.WithAttributes(attribute.Int("bytes", len(data))))

	res, err := s.ingest(ctx, src.ArchiveName(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return UploadResult{}, err
	}
	span.SetAttributes(attribute.String("task_id", res.TaskID))

	return res, nil
}

func (s *Service) ingest(ctx context.Context, filename string, body io.ReaderAt, size int64) (UploadResult, error) {
	if s.maxUploadBytes > 0 && size > s.maxUploadBytes {
		return UploadResult{}, fmt.Errorf("%w: %d bytes, limit %d", archive.ErrTooLarge, size, s.maxUploadBytes)
	}
	if err := archive.Validate(filename, body, size); err != nil {
		return UploadResult{}, err
	}

	taskID := s.newID()
	key := archive.ObjectKey(taskID)
	metadata := map[string]string{archive.MetadataOriginalFilename: filename}

	if err := s.blobs.Put(ctx, key, io.NewSectionReader(body, 0, size), size, metadata); err != nil {
		return UploadResult{}, fmt.Errorf("storing archive %s: %w", key, err)
	}
	if err := s.tasks.CreateTask(ctx, taskID); err != nil {
		return UploadResult{}, fmt.Errorf("creating report task: %w", err)
	}
	if err := s.tasks.RunInBackground(ctx, taskID); err != nil {
		return UploadResult{}, fmt.Errorf("starting report generation: %w", err)
	}

	s.logger.Info(ctx, "archive ingested",
		"task_id", taskID,
		"object_name", key,
		"original_filename", filename,
		"size", size,
	)

	return UploadResult{TaskID: taskID, ObjectName: key, Bucket: s.blobs.Bucket()}, nil
}
