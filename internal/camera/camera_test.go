package camera

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtholden/henwatch/internal/config"
)

// writeSnapshot writes a small PNG frame and returns its path.
func writeSnapshot(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.png")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return path
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	path := writeSnapshot(t, w, h)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewSelectsSource(t *testing.T) {
	s, err := New(config.CameraConfig{Source: "file", File: "x.jpg"})
	if err != nil {
		t.Fatalf("file source: %v", err)
	}
	if _, ok := s.(*FileSource); !ok {
		t.Errorf("got %T, want *FileSource", s)
	}

	s, err = New(config.CameraConfig{Source: "url", URL: "http://cam/snap.jpg", TimeoutSec: 5})
	if err != nil {
		t.Fatalf("url source: %v", err)
	}
	if _, ok := s.(*URLSource); !ok {
		t.Errorf("got %T, want *URLSource", s)
	}

	if _, err := New(config.CameraConfig{Source: "rtsp"}); err == nil {
		t.Error("unknown source should fail")
	}
}

func TestFileSourceAcquire(t *testing.T) {
	path := writeSnapshot(t, 32, 24)
	s := NewFileSource(path)

	img, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("bounds = %v, want 32x24", b)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "missing.jpg"))
	if _, err := s.Acquire(context.Background()); err == nil {
		t.Error("Acquire of missing file should fail")
	}
	if err := s.Probe(context.Background()); err == nil {
		t.Error("Probe of missing file should fail")
	}
}

func TestFileSourceCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewFileSource(path)
	if _, err := s.Acquire(context.Background()); err == nil {
		t.Error("Acquire of corrupt file should fail")
	}
	// Probe only checks reachability, not decodability.
	if err := s.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestFileSourceProbeRejectsDirectory(t *testing.T) {
	s := NewFileSource(t.TempDir())
	if err := s.Probe(context.Background()); err == nil {
		t.Error("Probe of a directory should fail")
	}
}

func TestURLSourceAcquire(t *testing.T) {
	frame := encodePNG(t, 16, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(frame)
	}))
	defer srv.Close()

	s := NewURLSource(srv.URL, 5*time.Second)
	img, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("bounds = %v, want 16x16", b)
	}
}

func TestURLSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewURLSource(srv.URL, 5*time.Second)
	if _, err := s.Acquire(context.Background()); err == nil {
		t.Error("Acquire with 503 response should fail")
	}
}

func TestURLSourceWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>login page</html>"))
	}))
	defer srv.Close()

	s := NewURLSource(srv.URL, 5*time.Second)
	if _, err := s.Acquire(context.Background()); err == nil {
		t.Error("Acquire with HTML response should fail")
	}
}

func TestURLSourceOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An MJPEG stream misconfigured as a snapshot URL never stops
		// sending. One byte past the cap is enough to trip the guard.
		w.Header().Set("Content-Type", "image/jpeg")
		chunk := make([]byte, 64*1024)
		var sent int64
		for sent <= MaxSnapshotBytes {
			n, err := w.Write(chunk)
			if err != nil {
				return
			}
			sent += int64(n)
		}
	}))
	defer srv.Close()

	s := NewURLSource(srv.URL, 30*time.Second)
	_, err := s.Acquire(context.Background())
	if err == nil {
		t.Fatal("Acquire of oversized body should fail")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v, want size-limit error", err)
	}
}

func TestURLSourceProbe(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		// Many cameras reject HEAD; any response still proves reachability.
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	s := NewURLSource(srv.URL, 5*time.Second)
	if err := s.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
	if gotMethod != http.MethodHead {
		t.Errorf("probe method = %q, want HEAD", gotMethod)
	}
}

func TestURLSourceProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	s := NewURLSource(srv.URL, 2*time.Second)
	if err := s.Probe(context.Background()); err == nil {
		t.Error("Probe of closed server should fail")
	}
}

func TestIsImageContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"image/jpeg", true},
		{"image/png; charset=binary", true},
		{"application/octet-stream", true},
		{"IMAGE/JPEG", true},
		{"text/html", false},
		{"application/json", false},
	}
	for _, tt := range tests {
		if got := isImageContentType(tt.ct); got != tt.want {
			t.Errorf("isImageContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestSourceNames(t *testing.T) {
	if got := NewFileSource("/tmp/a.jpg").Name(); got != "file:/tmp/a.jpg" {
		t.Errorf("file Name = %q", got)
	}
	if got := NewURLSource("http://cam/snap", time.Second).Name(); got != "url:http://cam/snap" {
		t.Errorf("url Name = %q", got)
	}
}
