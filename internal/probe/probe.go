// Package probe implements the Metadata Probe: best-effort extraction of
// MIME type, EXIF fields, and document-head text from a file on disk.
// Every method degrades to an empty result on failure rather than
// propagating an error up the pipeline, matching spec.md section 4.2's
// non-fatal failure contract.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/latchkey-labs/pileup/internal/common"
)

// defaultMIME is returned whenever MIME detection fails for any reason.
const defaultMIME = "application/octet-stream"

// Probe implements service.MetadataProbe by shelling out to "file" for
// MIME sniffing and "exiftool" for EXIF extraction, mirroring the
// external-tool wrapping original_source/app/metadata.py does with its
// own subprocess calls to exiftool.
type Probe struct {
	FilePath     string // path to the "file" binary, default "file"
	ExifToolPath string // path to "exiftool", default "exiftool"
	Timeout      time.Duration
}

// New returns a Probe with default tool paths and a conservative timeout,
// matching the 2-second subprocess timeout original_source uses for
// exiftool calls.
func New() *Probe {
	return &Probe{
		FilePath:     "file",
		ExifToolPath: "exiftool",
		Timeout:      2 * time.Second,
	}
}

// ProbeMIME shells out to "file --mime-type -b" and falls back to an
// extension-based guess, finally to defaultMIME.
func (p *Probe) ProbeMIME(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	bin := p.FilePath
	if bin == "" {
		bin = "file"
	}

	cmd := exec.CommandContext(ctx, bin, "--mime-type", "-b", path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		common.LogDebug("probe_mime_fallback", common.Fields{"path": path, "error": err.Error()})
		return mimeFromExtension(path), nil
	}

	mime := strings.TrimSpace(stdout.String())
	if mime == "" {
		return mimeFromExtension(path), nil
	}
	return mime, nil
}

// mimeFromExtension is the fallback used when the "file" tool is absent
// or errors, covering the common cases the pipeline cares about for
// folder-hint survey and rule matching.
func mimeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".gif":
		return "image/gif"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".zip":
		return "application/zip"
	default:
		return defaultMIME
	}
}

// exifFields are the tags collected, mirroring metadata.py's _extract_exif
// column list.
var exifFields = []string{
	"DateTimeOriginal",
	"DateTimeDigitized",
	"CreateDate",
	"ModifyDate",
	"Make",
	"Model",
	"LensModel",
	"Artist",
	"ImageDescription",
	"GPSLatitude",
	"GPSLongitude",
	"GPSAltitude",
}

// ProbeEXIF shells out to "exiftool -j <fields...> path" and returns an
// empty map on any failure (missing binary, non-image file, timeout).
func (p *Probe) ProbeEXIF(ctx context.Context, path string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	bin := p.ExifToolPath
	if bin == "" {
		bin = "exiftool"
	}

	args := []string{"-j"}
	for _, f := range exifFields {
		args = append(args, "-"+f)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return map[string]string{}, nil
	}

	var entries []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil || len(entries) == 0 {
		return map[string]string{}, nil
	}

	out := make(map[string]string)
	for _, field := range exifFields {
		raw, ok := entries[0][field]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			out[field] = strings.TrimSpace(s)
		}
	}
	return out, nil
}

// ProbeDocHead extracts up to limit bytes of text from the head of a
// document. Plain text files are read directly; everything else returns
// an empty string, leaving richer extraction (PDF text, OCR) to a future
// importer rather than blocking the pipeline on an unavailable tool.
func (p *Probe) ProbeDocHead(ctx context.Context, path string, limit int) (string, error) {
	if limit <= 0 {
		limit = 4096
	}

	mime, err := p.ProbeMIME(ctx, path)
	if err != nil {
		return "", nil
	}
	if !strings.HasPrefix(mime, "text/") {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, limit)
	r := bufio.NewReader(f)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return "", nil
	}
	return string(buf[:n]), nil
}

func (p *Probe) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 2 * time.Second
	}
	return p.Timeout
}

// DetectEndpointKind probes an AI endpoint URL to decide whether it speaks
// the OpenAI-compatible API (/v1/models) or the Ollama-compatible API
// (/api/tags), used by internal/aiclient's endpoint pool. Kept here because it
// shares the "probe something external, degrade on failure" shape with
// the rest of this package rather than living inside the AI client's own
// request path.
func DetectEndpointKind(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err == nil {
		resp, err := httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return "ollama", nil
			}
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/models", nil)
	if err != nil {
		return "", fmt.Errorf("%w: building endpoint probe request: %v", common.ErrAIUnavailable, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: probing endpoint %s: %v", common.ErrAIUnavailable, baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		return "openai", nil
	}
	return "", fmt.Errorf("%w: endpoint %s did not match a known API shape", common.ErrAIUnavailable, baseURL)
}
