package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMIME_FallsBackOnMissingBinary(t *testing.T) {
	p := &Probe{FilePath: "/nonexistent/file-binary", ExifToolPath: "exiftool", Timeout: 200 * time.Millisecond}

	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake jpeg"), 0o644))

	mime, err := p.ProbeMIME(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
}

func TestProbeMIME_UnknownExtensionDefaultsToOctetStream(t *testing.T) {
	p := &Probe{FilePath: "/nonexistent/file-binary", Timeout: 200 * time.Millisecond}

	dir := t.TempDir()
	path := filepath.Join(dir, "mystery.bin")
	require.NoError(t, os.WriteFile(path, []byte("???"), 0o644))

	mime, err := p.ProbeMIME(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, defaultMIME, mime)
}

func TestProbeEXIF_MissingBinaryReturnsEmptyMap(t *testing.T) {
	p := &Probe{ExifToolPath: "/nonexistent/exiftool-binary", Timeout: 200 * time.Millisecond}

	fields, err := p.ProbeEXIF(context.Background(), "/tmp/whatever.jpg")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestProbeDocHead_ReadsTextFile(t *testing.T) {
	p := &Probe{FilePath: "/nonexistent/file-binary", Timeout: 200 * time.Millisecond}

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from a text file"), 0o644))

	head, err := p.ProbeDocHead(context.Background(), path, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", head)
}

func TestProbeDocHead_NonTextReturnsEmpty(t *testing.T) {
	p := &Probe{FilePath: "/nonexistent/file-binary", Timeout: 200 * time.Millisecond}

	dir := t.TempDir()
	path := filepath.Join(dir, "image.jpg")
	require.NoError(t, os.WriteFile(path, []byte("binary content"), 0o644))

	head, err := p.ProbeDocHead(context.Background(), path, 64)
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestProbeDocHead_MissingFileReturnsEmpty(t *testing.T) {
	p := &Probe{FilePath: "/nonexistent/file-binary", Timeout: 200 * time.Millisecond}

	head, err := p.ProbeDocHead(context.Background(), "/tmp/notes.txt", 64)
	require.NoError(t, err)
	assert.Empty(t, head)
}
