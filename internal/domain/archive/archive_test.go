package archive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := buildZip(t, map[string]string{"main.go": "package main"})
	empty := buildZip(t, nil)

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  error
	}{
		{name: "valid archive", filename: "repo.zip", data: valid},
		{name: "uppercase extension", filename: "REPO.ZIP", data: valid},
		{name: "wrong extension", filename: "repo.txt", data: valid, wantErr: ErrNotZipFilename},
		{name: "not a zip", filename: "repo.zip", data: []byte("not a zip file"), wantErr: ErrInvalidArchive},
		{name: "empty archive", filename: "empty.zip", data: empty, wantErr: ErrInvalidArchive},
		{name: "too short", filename: "repo.zip", data: []byte("PK"), wantErr: ErrInvalidArchive},
		{name: "truncated archive", filename: "repo.zip", data: valid[:len(valid)/2], wantErr: ErrInvalidArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.filename, bytes.NewReader(tt.data), int64(len(tt.data)))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSource_ArchiveName(t *testing.T) {
	t.Parallel()

	src := Source{Owner: "octo", Repo: "hello", Branch: "main"}
	assert.Equal(t, "octo-hello-main.zip", src.ArchiveName())
	assert.Equal(t, "abc.zip", ObjectKey("abc"))
}
