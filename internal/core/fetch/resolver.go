package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupFunc releases a resolved source. It is safe to call more than once.
type CleanupFunc func()

// Resolver turns a job source (local path or remote URL) into a local,
// readable file. Remote sources are downloaded into the temp directory and
// owned exclusively by the job that requested them.
type Resolver struct {
	tempDir        string
	allowedSchemes []string
	maxFileSize    int64
	client         *http.Client
}

type ResolverConfig struct {
	TempDir         string
	AllowedSchemes  []string
	MaxFileSizeMB   int
	DownloadTimeout time.Duration
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	schemes := cfg.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	return &Resolver{
		tempDir:        cfg.TempDir,
		allowedSchemes: schemes,
		maxFileSize:    int64(cfg.MaxFileSizeMB) << 20,
		client: &http.Client{
			Timeout: cfg.DownloadTimeout,
		},
	}, nil
}

// IsRemote reports whether source parses as a URL with scheme and host.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Resolve returns a local path for source plus a cleanup handle. Local
// paths are validated and returned with a no-op cleanup; URLs are
// downloaded and the cleanup removes the temp file.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, CleanupFunc, error) {
	if !IsRemote(source) {
		if _, err := os.Stat(source); err != nil {
			return "", nil, fmt.Errorf("file not found: %s", source)
		}
		return source, func() {}, nil
	}
	return r.download(ctx, source)
}

func (r *Resolver) download(ctx context.Context, rawURL string) (string, CleanupFunc, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	if !r.schemeAllowed(u.Scheme) {
		return "", nil, fmt.Errorf("url scheme %q not allowed (allowed: %s)",
			u.Scheme, strings.Join(r.allowedSchemes, ", "))
	}

	name := filenameFromURL(u)
	if name == "" {
		name = "downloaded_file"
	}
	name = SanitizeFilename(name)

	tmp, err := os.CreateTemp(r.tempDir, "download_*_"+name)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	cleanup := r.cleanupFunc(path)

	log.Info().Str("url", rawURL).Str("path", path).Msg("downloading source")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if r.maxFileSize > 0 {
		body = io.LimitReader(resp.Body, r.maxFileSize+1)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write download: %w", err)
	}
	if r.maxFileSize > 0 && n > r.maxFileSize {
		cleanup()
		return "", nil, fmt.Errorf("download %s exceeds size limit of %d bytes", rawURL, r.maxFileSize)
	}

	log.Debug().Str("path", path).Int64("bytes", n).Msg("download complete")
	return path, cleanup, nil
}

// cleanupFunc removes a downloaded file. Files outside the temp directory
// are never touched.
func (r *Resolver) cleanupFunc(path string) CleanupFunc {
	return func() {
		if filepath.Dir(path) != filepath.Clean(r.tempDir) {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("temp file cleanup failed")
			return
		}
		log.Debug().Str("path", path).Msg("temp file removed")
	}
}

func (r *Resolver) schemeAllowed(scheme string) bool {
	for _, s := range r.allowedSchemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

func filenameFromURL(u *url.URL) string {
	return filepath.Base(strings.TrimSuffix(u.Path, "/"))
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

const maxFilenameLength = 200

// SanitizeFilename replaces problematic characters and bounds the length so
// downloaded names are always valid on the local filesystem.
func SanitizeFilename(name string) string {
	safe := unsafeFilenameChars.ReplaceAllString(name, "_")
	if len(safe) > maxFilenameLength {
		ext := filepath.Ext(safe)
		stem := strings.TrimSuffix(safe, ext)
		safe = stem[:maxFilenameLength-len(ext)] + ext
	}
	return safe
}
