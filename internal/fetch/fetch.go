// Package fetch resolves a formula source URL to a local archive.
//
// Remote archives are downloaded into a cache keyed by formula name and
// version; file:// URLs and bare paths are used where they are.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/logging"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultBackoff is the delay before the first retry; it doubles per attempt
	DefaultBackoff = time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "tslinstall/1.0"
)

// Options configures a Downloader.
type Options struct {
	// CacheDir receives remote downloads (required for http sources)
	CacheDir string
	// Retries is the number of retries after the first attempt (-1 disables)
	Retries int
	// Backoff is the initial retry delay
	Backoff time.Duration
	// Progress, when set, receives a progress bar for remote downloads
	Progress io.Writer
	// Client overrides the HTTP client
	Client *http.Client
	Logger logging.Logger
}

// Downloader handles source acquisition with retry logic.
type Downloader struct {
	client    *http.Client
	cacheDir  string
	userAgent string
	retries   int
	backoff   time.Duration
	progress  io.Writer
	log       logging.Logger
}

// StatusError is returned for non-200 HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.URL)
}

// NewDownloader creates a new downloader.
func NewDownloader(opts Options) *Downloader {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	retries := opts.Retries
	switch {
	case retries == 0:
		retries = DefaultRetries
	case retries < 0:
		retries = 0
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Downloader{
		client:    client,
		cacheDir:  opts.CacheDir,
		userAgent: DefaultUserAgent,
		retries:   retries,
		backoff:   backoff,
		progress:  opts.Progress,
		log:       log,
	}
}

// Resolve returns a local path for source. Remote sources are downloaded into
// cache/{name}/{version}/{filename} unless already cached.
func (d *Downloader) Resolve(ctx context.Context, source, name, version string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}

	switch u.Scheme {
	case "":
		return localSource(source)
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = "//" + u.Host + u.Path
		}
		return localSource(filepath.FromSlash(p))
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}

	if d.cacheDir == "" {
		return "", fmt.Errorf("cache directory is required for remote sources")
	}

	filename := path.Base(u.Path)
	if filename == "/" || filename == "." {
		return "", fmt.Errorf("cannot derive file name from %s", source)
	}
	cachePath := filepath.Join(d.cacheDir, name, version, filename)

	if fileExists(cachePath) {
		d.log.Debug("using cached source", "path", cachePath)
		return cachePath, nil
	}

	if err := d.DownloadToFile(ctx, source, cachePath); err != nil {
		return "", err
	}
	return cachePath, nil
}

// Evict removes a cached download so the next Resolve fetches it again.
// Local sources are never touched.
func (d *Downloader) Evict(localPath string) error {
	if d.cacheDir == "" {
		return nil
	}
	rel, err := filepath.Rel(d.cacheDir, localPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("evict cached source: %w", err)
	}
	return nil
}

// DownloadToFile downloads a URL to a specific file path.
func (d *Downloader) DownloadToFile(ctx context.Context, rawURL, destPath string) error {
	var lastErr error

	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			backoff := d.backoff * time.Duration(1<<uint(attempt-1))
			d.log.Debug("retrying download", "url", rawURL, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := d.downloadOnce(ctx, rawURL, destPath)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Client errors will not change on retry
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return fmt.Errorf("download %s: %w", rawURL, err)
		}
	}

	return fmt.Errorf("download failed after %d retries: %w", d.retries, lastErr)
}

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmpFile
	var bar *progressbar.ProgressBar
	if d.progress != nil {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription("downloading "+path.Base(req.URL.Path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		w = io.MultiWriter(tmpFile, bar)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	d.log.Info("downloaded source", "url", rawURL, "bytes", n, "path", destPath)
	return nil
}

func localSource(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("local source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("local source %s is a directory", p)
	}
	return p, nil
}

// fileExists checks if a file exists and is not empty
func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
