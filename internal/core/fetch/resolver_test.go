package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, maxMB int) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		TempDir:         t.TempDir(),
		AllowedSchemes:  []string{"http", "https"},
		MaxFileSizeMB:   maxMB,
		DownloadTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return r
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.pdf"))
	assert.True(t, IsRemote("http://example.com/a.pdf"))
	assert.False(t, IsRemote("/data/in/a.pdf"))
	assert.False(t, IsRemote("a.pdf"))
	assert.False(t, IsRemote("C:/docs/a.pdf"))
}

func TestResolve_LocalFile(t *testing.T) {
	r := newTestResolver(t, 10)

	dir := t.TempDir()
	local := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(local, []byte("%PDF-1.7"), 0o644))

	path, cleanup, err := r.Resolve(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, local, path)

	// Cleanup of a local source never deletes the file.
	cleanup()
	_, err = os.Stat(local)
	require.NoError(t, err)
}

func TestResolve_LocalFileMissing(t *testing.T) {
	r := newTestResolver(t, 10)
	_, _, err := r.Resolve(context.Background(), "/no/such/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestResolve_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.7 content"))
	}))
	defer srv.Close()

	r := newTestResolver(t, 10)
	path, cleanup, err := r.Resolve(context.Background(), srv.URL+"/files/report.pdf")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 content", string(data))
	assert.Contains(t, filepath.Base(path), "report.pdf")

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Cleanup is idempotent.
	cleanup()
}

func TestResolve_DownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestResolver(t, 10)
	_, _, err := r.Resolve(context.Background(), srv.URL+"/missing.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")

	// The failed download leaves no temp file behind.
	entries, rerr := os.ReadDir(r.tempDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestResolve_DownloadSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 2<<20))
	}))
	defer srv.Close()

	r := newTestResolver(t, 1)
	_, _, err := r.Resolve(context.Background(), srv.URL+"/big.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limit")

	entries, rerr := os.ReadDir(r.tempDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestResolve_SchemeNotAllowed(t *testing.T) {
	r := newTestResolver(t, 10)
	_, _, err := r.Resolve(context.Background(), "ftp://example.com/a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestResolve_DownloadCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	r := newTestResolver(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := r.Resolve(ctx, srv.URL+"/slow.pdf")
	require.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("report.pdf"))
	assert.Equal(t, "a_b_c_.pdf", SanitizeFilename(`a<b>c?.pdf`))
	assert.Equal(t, "pa_th.pdf", SanitizeFilename("pa/th.pdf"))

	long := strings.Repeat("x", 300) + ".pdf"
	got := SanitizeFilename(long)
	assert.Len(t, got, 200)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestJanitor_Sweep(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "download_old_report.pdf")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	fresh := filepath.Join(dir, "download_new_report.pdf")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.Mkdir(sub, 0o755))

	j := NewJanitor(dir, time.Hour, time.Minute)
	assert.Equal(t, 1, j.Sweep())

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
	_, err = os.Stat(sub)
	require.NoError(t, err)
}

func TestJanitor_SweepMissingDir(t *testing.T) {
	j := NewJanitor("/no/such/dir", time.Hour, time.Minute)
	assert.Equal(t, 0, j.Sweep())
}
