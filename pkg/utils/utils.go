// Package utils provides the download cache, compressed file handling and the
// shared logger used by the dataset loaders.
package utils

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("file not found on server")

type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 {
		Log.Debugf("%s: downloaded %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

func get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		CloseLogged(resp.Body, "response body")
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Errorf("bad status: %s", resp.Status)
	}
	return resp, nil
}

// DownloadFile downloads url to path. The body is written to a temp file in
// the destination directory and renamed into place once complete.
func DownloadFile(ctx context.Context, url, path string) error {
	resp, err := get(ctx, url)
	if err != nil {
		return err
	}
	defer CloseLogged(resp.Body, "response body")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create destination dir")
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			Log.Warnf("Error removing temp file %s: %v", tmpName, err)
		}
	}()

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path)}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// CacheFileName returns the local file name used for url.
func CacheFileName(url, logPrefix string) string {
	urlParts := strings.Split(url, "/")
	fileName := urlParts[len(urlParts)-1]
	if i := strings.IndexAny(fileName, "?#"); i >= 0 {
		fileName = fileName[:i]
	}

	sanitizedPrefix := strings.Trim(logPrefix, "[]")
	sanitizedPrefix = strings.ReplaceAll(sanitizedPrefix, " ", "_")
	if sanitizedPrefix != "" {
		fileName = sanitizedPrefix + "_" + fileName
	}
	return fileName
}

// CachedReader returns a reader for url. With a cache dir the file is
// downloaded once and served from disk afterwards; without one the response
// is streamed. Compressed payloads are transparently decompressed.
func CachedReader(ctx context.Context, url, cacheDir, logPrefix string) (io.ReadCloser, error) {
	if cacheDir != "" {
		localPath := filepath.Join(cacheDir, CacheFileName(url, logPrefix))
		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			Log.Infof("%s Downloading %s", logPrefix, url)
			if err := DownloadFile(ctx, url, localPath); err != nil {
				return nil, err
			}
		} else {
			Log.Infof("%s Using cached file: %s", logPrefix, localPath)
		}
		return Open(localPath)
	}

	Log.Infof("%s Streaming from %s", logPrefix, url)
	resp, err := get(ctx, url)
	if err != nil {
		return nil, err
	}
	return Decompress(resp.Body)
}

// Open opens a local file, decompressing it when it carries a gzip header.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return Decompress(f)
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

type bufferedReadCloser struct {
	*bufio.Reader
	io.Closer
}

// Decompress sniffs the gzip magic bytes of rc and wraps it with a gzip
// reader when present. Ownership of rc passes to the returned reader.
func Decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		return &bufferedReadCloser{Reader: br, Closer: rc}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		CloseLogged(rc, "compressed stream")
		return nil, errors.Wrap(err, "failed to open gzip stream")
	}
	return &gzipReadCloser{Reader: zr, underlying: rc}, nil
}

// CloseLogged closes c and logs a failure.
func CloseLogged(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		Log.Warnf("Error closing %s: %v", what, err)
	}
}
