// Package camera acquires henhouse snapshots for detection. Two
// sources are supported: a local file (for cameras that write
// snapshots to shared storage) and an HTTP URL (for cameras with a
// still-image endpoint). Both decode to image.Image so the detector
// never cares where a frame came from.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	// Register the snapshot formats cameras actually produce.
	_ "image/jpeg"
	_ "image/png"

	"github.com/mtholden/henwatch/internal/config"
	"github.com/mtholden/henwatch/internal/httpkit"
)

// MaxSnapshotBytes caps how much of a snapshot response is read.
// A still frame larger than this is almost certainly a misconfigured
// endpoint (e.g. an MJPEG stream instead of a snapshot URL).
const MaxSnapshotBytes int64 = 20 * 1024 * 1024

// Source produces snapshot frames. Probe is a cheap reachability
// check used by connection watching; it must not decode anything.
type Source interface {
	// Acquire fetches and decodes the current snapshot.
	Acquire(ctx context.Context) (image.Image, error)
	// Probe reports whether the source is currently reachable.
	Probe(ctx context.Context) error
	// Name identifies the source for logging ("file:..." or "url:...").
	Name() string
}

// New selects a Source from configuration. Config validation has
// already rejected unknown source types, but we guard anyway.
func New(cfg config.CameraConfig) (Source, error) {
	switch cfg.Source {
	case "file":
		return NewFileSource(cfg.File), nil
	case "url":
		return NewURLSource(cfg.URL, time.Duration(cfg.TimeoutSec)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

// FileSource reads snapshots from a path on local storage.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed snapshot source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file:" + s.path }

// Acquire reads and decodes the snapshot file.
func (s *FileSource) Acquire(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}

	return img, nil
}

// Probe checks that the snapshot file exists and is a regular file.
func (s *FileSource) Probe(ctx context.Context) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat snapshot %s: %w", s.path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("snapshot path %s is a directory", s.path)
	}
	return nil
}

// URLSource fetches snapshots from a camera's HTTP still endpoint.
type URLSource struct {
	url    string
	client *http.Client
}

// NewURLSource creates an HTTP-backed snapshot source. The timeout
// bounds the whole fetch; cheap cameras can take tens of seconds to
// produce a frame, so the caller should be generous here.
func NewURLSource(url string, timeout time.Duration) *URLSource {
	return &URLSource{
		url: url,
		client: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 2*time.Second),
		),
	}
}

func (s *URLSource) Name() string { return "url:" + s.url }

// Acquire GETs the snapshot URL and decodes the response body.
func (s *URLSource) Acquire(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg,image/png,image/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: unexpected status %s", resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isImageContentType(ct) {
		return nil, fmt.Errorf("fetch snapshot: unexpected content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	if int64(len(body)) > MaxSnapshotBytes {
		return nil, fmt.Errorf("snapshot exceeds %d bytes (stream endpoint configured as snapshot URL?)", MaxSnapshotBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot from %s: %w", s.url, err)
	}

	return img, nil
}

// Probe issues a HEAD request to the snapshot URL. Cameras that do not
// implement HEAD answer 405; any HTTP response at all means the camera
// is reachable, which is all the probe needs to know.
func (s *URLSource) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.url, err)
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}

func isImageContentType(ct string) bool {
	ct = strings.ToLower(ct)
	// Some cameras send bare "jpeg" or append charset junk.
	return strings.Contains(ct, "image/") || strings.Contains(ct, "octet-stream")
}
