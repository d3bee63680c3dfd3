// Package archive describes uploaded code archives: how they are validated,
// keyed in object storage and fetched from remote sources.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// zipSignature is the local file header magic every zip archive starts with.
var zipSignature = []byte("PK\x03\x04")

var (
	// ErrInvalidArchive is returned when the content is not a usable zip archive.
	ErrInvalidArchive = errors.New("invalid zip archive")

	// ErrNotZipFilename is returned when the file name lacks the .zip extension.
	ErrNotZipFilename = errors.New("only .zip archives are accepted")

	// ErrTooLarge is returned when an archive exceeds the configured limit.
	ErrTooLarge = errors.New("archive exceeds maximum size")

	// ErrObjectNotFound is returned by a BlobStore when a key is absent.
	ErrObjectNotFound = errors.New("archive object not found")
)

// ObjectKey returns the blob key under which a task's archive is stored.
func ObjectKey(taskID string) string { return taskID + ".zip" }

// MetadataOriginalFilename is the blob metadata key holding the name the
// archive was uploaded or fetched under.
const MetadataOriginalFilename = "original_filename"

// HasZipExtension reports whether name ends in .zip, ignoring case.
func HasZipExtension(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

// Validate checks that r holds a readable zip archive with at least one
// entry. It checks the filename, the local header signature and the central
// directory, in that order.
func Validate(filename string, r io.ReaderAt, size int64) error {
	if !HasZipExtension(filename) {
		return ErrNotZipFilename
	}

	header := make([]byte, len(zipSignature))
	if _, err := r.ReadAt(header, 0); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrInvalidArchive, err)
	}
	if !bytes.Equal(header, zipSignature) {
		return fmt.Errorf("%w: bad signature", ErrInvalidArchive)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("%w: archive is empty", ErrInvalidArchive)
	}
	return nil
}

// BlobStore is the object storage gateway holding uploaded archives.
type BlobStore interface {
	// EnsureBucket creates the backing bucket if it does not exist yet.
	EnsureBucket(ctx context.Context) error
	// Put stores size bytes read from body under key.
	Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Get opens the object stored under key or returns ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Bucket names the bucket archives are stored in.
	Bucket() string
}

// Source identifies a remote repository branch to fetch an archive from.
type Source struct {
	Owner  string
	Repo   string
	Branch string
}

// ArchiveName is the filename recorded for an archive fetched from src.
func (s Source) ArchiveName() string {
	return fmt.Sprintf("%s-%s-%s.zip", s.Owner, s.Repo, s.Branch)
}

// Fetcher downloads a repository snapshot as a zip archive.
type Fetcher interface {
	// ParseSource validates a repository URL and resolves it with branch.
	ParseSource(repoURL, branch string) (Source, error)
	// Fetch downloads the archive for src.
	Fetch(ctx context.Context, src Source) ([]byte, error)
}
