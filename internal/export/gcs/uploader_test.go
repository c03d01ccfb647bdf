package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type capturedUpload struct {
	mu    sync.Mutex
	path  string
	name  string
	body  string
	calls int
}

func newTestUploader(t *testing.T, status int) (*Uploader, *capturedUpload) {
	t.Helper()
	captured := &capturedUpload{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.calls++
		captured.path = r.URL.Path
		captured.name = r.URL.Query().Get("name")
		captured.body = string(body)
		captured.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintln(w, `{"error":{"code":403,"message":"denied"}}`)
			return
		}
		fmt.Fprintln(w, `{"name":"exports/names.csv","bucket":"test-bucket"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	u, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return u, captured
}

func TestUploaderPut(t *testing.T) {
	u, captured := newTestUploader(t, http.StatusOK)

	uri, err := u.Put(context.Background(), "exports/names.csv", "text/csv", strings.NewReader("Alpha\r\nBeta\r\n"))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/exports/names.csv", uri)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Contains(t, captured.path, "/b/test-bucket/o")
	require.Equal(t, "exports/names.csv", captured.name)
	require.Contains(t, captured.body, "Alpha\r\nBeta")
}

func TestUploaderPutServerError(t *testing.T) {
	u, _ := newTestUploader(t, http.StatusForbidden)

	_, err := u.Put(context.Background(), "exports/names.csv", "text/csv", strings.NewReader("Alpha"))
	require.Error(t, err)
}

func TestUploaderValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	u, _ := newTestUploader(t, http.StatusOK)
	_, err = u.Put(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "object name is required")

	client := u.client
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}
