package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageUploadWritesEvidence(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStorage(base, "http://localhost:8080/files")
	require.NoError(t, err)

	body := "audio-bytes"
	resp, err := store.Upload(context.Background(), &UploadRequest{
		Key:         "sos/abc123/1_scream.ogg",
		Reader:      strings.NewReader(body),
		ContentType: "audio/ogg",
		Size:        int64(len(body)),
	})
	require.NoError(t, err)

	assert.Equal(t, "sos/abc123/1_scream.ogg", resp.Key)
	assert.Equal(t, "http://localhost:8080/files/sos/abc123/1_scream.ogg", resp.URL)

	written, err := os.ReadFile(filepath.Join(base, "sos", "abc123", "1_scream.ogg"))
	require.NoError(t, err)
	assert.Equal(t, body, string(written))
}

func TestLocalStorageGetURL(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)

	url, err := store.GetURL(context.Background(), "sos/abc123/1_scream.ogg", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/sos/abc123/1_scream.ogg", url)
}
