package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/internal/infra/storage"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

func setupMinio(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping minio container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	store, err := New(ctx, Config{
		Endpoint:        fmt.Sprintf("http://%s:%s", host, port.Port()),
		Region:          "us-east-1",
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPassword,
		Bucket:          "code-archives",
	}, storage.NoOpTracer())
	require.NoError(t, err)

	return store
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := setupMinio(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.EnsureBucket(ctx), "ensuring an existing bucket is a no-op")

	key := archive.ObjectKey("task-1")
	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, archive.ErrObjectNotFound)

	payload := []byte("PK\x03\x04 not really a zip")
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)),
		map[string]string{archive.MetadataOriginalFilename: "repo.zip"}))

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	body, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "code-archives", store.Bucket())
}
