// Package fetcher implements the Resource Fetcher: HTTP(S) GET with
// resume support, SHA-256 verification, and a typed error taxonomy,
// fronted by an optional middleware hook that can rewrite the request
// URL and headers before it goes out. Every successful download's
// source URL and ETag are recorded in an extended attribute on the
// cached file so repeat fetches can short-circuit with a conditional
// GET.
package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/retry"
)

// Kind names which part of the repo layout a fetch targets, selecting
// the URL-building rule from §6's fetch URL layout.
type Kind string

const (
	KindManifest       Kind = "manifest"
	KindCatalog        Kind = "catalog"
	KindPackage        Kind = "package"
	KindIcon           Kind = "icon"
	KindClientResource Kind = "client_resource"
)

// ErrorKind classifies a fetch failure per the error taxonomy.
type ErrorKind string

const (
	ErrConnection   ErrorKind = "connection"
	ErrHTTP         ErrorKind = "http"
	ErrVerification ErrorKind = "verification"
	ErrFilesystem   ErrorKind = "filesystem"
	ErrDownload     ErrorKind = "download"
)

// Error is the fetcher's sum-type error: a Kind tag plus the
// underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetcher: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NonRetryable marks an *Error as final so pkg/retry stops immediately.
type NonRetryable struct{ *Error }

func (n NonRetryable) Unwrap() error { return n.Error }

// Middleware rewrites a request's URL and headers before it is sent,
// mirroring the platform's optional processRequest(url, headers)
// plugin hook.
type Middleware func(url string, headers http.Header) (string, http.Header)

// Fetcher performs resumable, verified downloads against a repo base
// URL.
type Fetcher struct {
	Client     *http.Client
	BaseURL    string
	Middleware Middleware
	Retry      retry.RetryConfig
}

// New returns a Fetcher with sensible retry defaults, grounded in the
// teacher's DownloadFile retry loop.
func New(baseURL string) *Fetcher {
	return &Fetcher{
		Client:  &http.Client{Timeout: 10 * time.Minute},
		BaseURL: baseURL,
		Retry: retry.RetryConfig{
			MaxRetries:      3,
			InitialInterval: 2 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// URL builds the full fetch URL for kind and name per §6's layout.
func (f *Fetcher) URL(kind Kind, name string) string {
	var sub string
	switch kind {
	case KindManifest:
		sub = "manifests"
	case KindCatalog:
		sub = "catalogs"
	case KindPackage:
		sub = "pkgs"
	case KindIcon:
		sub = "icons"
	case KindClientResource:
		sub = "client_resources"
	}
	return fmt.Sprintf("%s/%s/%s", trimRightSlash(f.BaseURL), sub, name)
}

func trimRightSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Fetch retrieves url to destinationPath. When resume is true and a
// sibling destinationPath+".download" partial file exists, the
// download continues from its current length via a Range request; if
// the server does not honor it (no 206), the partial is discarded and
// the download restarts from scratch. When verify is true and
// expectedHash is non-empty, the final file's SHA-256 must match or
// the file is deleted and a verification error is returned. Returns
// whether a new download actually occurred (false means the cached
// copy already satisfied expectedHash or a 304 was returned).
func (f *Fetcher) Fetch(kind Kind, url, destinationPath, message string, resume bool, expectedHash string, verify bool) (didDownload bool, err error) {
	logging.Info(message, "kind", string(kind), "url", url, "dest", destinationPath)

	if verify && expectedHash != "" {
		if matchesHash(destinationPath, expectedHash) {
			logging.Debug("Cached file already matches expected hash, skipping download", "dest", destinationPath)
			return false, nil
		}
	}

	partialPath := destinationPath + ".download"

	retryErr := retry.Retry(f.Retry, func() error {
		downloaded, ferr := f.fetchOnce(url, destinationPath, partialPath, resume)
		didDownload = downloaded
		return ferr
	})
	if retryErr != nil {
		return false, retryErr
	}

	if verify && expectedHash != "" {
		if !matchesHash(destinationPath, expectedHash) {
			os.Remove(destinationPath)
			return false, &Error{Kind: ErrVerification, Op: "verify", Err: fmt.Errorf("sha256 mismatch for %s", destinationPath)}
		}
	}

	return didDownload, nil
}

func (f *Fetcher) fetchOnce(url, destinationPath, partialPath string, resume bool) (bool, error) {
	headers := http.Header{}
	reqURL := url

	var resumeOffset int64
	var out *os.File
	var err error

	if resume {
		if info, statErr := os.Stat(partialPath); statErr == nil {
			resumeOffset = info.Size()
		}
	}

	if f.Middleware != nil {
		reqURL, headers = f.Middleware(reqURL, headers)
	}

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return false, &Error{Kind: ErrConnection, Op: "build request", Err: err}
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	} else if etag, lastModified, sourceURL := readValidators(destinationPath); sourceURL == url {
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return false, &Error{Kind: ErrConnection, Op: "GET " + reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, NonRetryable{&Error{Kind: ErrHTTP, Op: "GET " + reqURL, Err: fmt.Errorf("404 not found")}}
	}

	if resp.StatusCode == http.StatusNotModified {
		logging.Debug("Server reports cached copy is current, skipping download", "dest", destinationPath)
		return false, nil
	}

	switch resp.StatusCode {
	case http.StatusOK:
		resumeOffset = 0
		out, err = os.OpenFile(partialPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	case http.StatusPartialContent:
		out, err = os.OpenFile(partialPath, os.O_APPEND|os.O_WRONLY, 0644)
	default:
		return false, NonRetryable{&Error{Kind: ErrHTTP, Op: "GET " + reqURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}}
	}
	if err != nil {
		return false, &Error{Kind: ErrFilesystem, Op: "open partial file", Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return false, &Error{Kind: ErrDownload, Op: "copy body", Err: err}
	}
	if err := out.Close(); err != nil {
		return false, &Error{Kind: ErrFilesystem, Op: "close partial file", Err: err}
	}

	if err := os.Rename(partialPath, destinationPath); err != nil {
		return false, &Error{Kind: ErrFilesystem, Op: "rename to final path", Err: err}
	}

	if err := recordSource(destinationPath, url, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")); err != nil {
		logging.Debug("Failed to record source xattr", "dest", destinationPath, "error", err)
	}

	return true, nil
}

func matchesHash(path, expectedHash string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == expectedHash
}

const (
	xattrSourceURL    = "user.fleetupdate.source_url"
	xattrETag         = "user.fleetupdate.etag"
	xattrLastModified = "user.fleetupdate.last_modified"
)

// recordSource stamps the download's source URL and cache validators
// (ETag, Last-Modified, when the server sent them) onto the cached
// file as extended attributes, so a later fetch of the same URL can
// send a conditional GET instead of re-downloading.
func recordSource(path, url, etag, lastModified string) error {
	if err := unix.Setxattr(path, xattrSourceURL, []byte(url), 0); err != nil {
		return err
	}
	if etag != "" {
		if err := unix.Setxattr(path, xattrETag, []byte(etag), 0); err != nil {
			return err
		}
	}
	if lastModified != "" {
		if err := unix.Setxattr(path, xattrLastModified, []byte(lastModified), 0); err != nil {
			return err
		}
	}
	return nil
}

// readXattr returns the value of the named extended attribute on
// path, or "" if it is absent or unreadable.
func readXattr(path, name string) string {
	size, err := unix.Getxattr(path, name, nil)
	if err != nil || size <= 0 {
		return ""
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, name, buf)
	if err != nil {
		return ""
	}
	return string(buf[:n])
}

// readValidators returns the cache validators previously recorded by
// recordSource for path.
func readValidators(path string) (etag, lastModified, sourceURL string) {
	return readXattr(path, xattrETag), readXattr(path, xattrLastModified), readXattr(path, xattrSourceURL)
}

// SourceURL reads back the source URL xattr set by recordSource, or
// "" if absent.
func SourceURL(path string) string {
	return readXattr(path, xattrSourceURL)
}

// EnsureDir creates dir if it does not already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// PackageDestination computes the local cache path for an
// installer_item_location, joining it under cacheDir the way the
// Cache Manager expects (basename-keyed, matching the URL layout).
func PackageDestination(cacheDir, location string) string {
	return filepath.Join(cacheDir, filepath.Base(location))
}

// FreeBytes returns free space on the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, &Error{Kind: ErrFilesystem, Op: "statfs", Err: err}
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// ParseContentLength extracts a numeric Content-Length header value,
// used by the cache manager's disk-space accounting for partials.
func ParseContentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
