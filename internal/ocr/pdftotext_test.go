package ocr

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBin writes a shell script standing in for pdftotext.
func fakeBin(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)) // #nosec G306
	return path
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToText_ExtractText(t *testing.T) {
	// -layout <file> - : echo the temp file back as "text".
	p := NewPdfToText(fakeBin(t, `cat "$2"`))
	p.tmpDir = t.TempDir()

	text, err := p.ExtractText(context.Background(), []byte("%PDF-1.4 Building Permit Application"))
	require.NoError(t, err)
	assert.Contains(t, text, "Building Permit Application")

	entries, err := os.ReadDir(p.tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed")
}

func TestPdfToText_Args(t *testing.T) {
	p := NewPdfToText(fakeBin(t, `printf '%s\n' "$@"`))
	p.tmpDir = t.TempDir()

	out, err := p.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, args, 3)
	assert.Equal(t, "-layout", args[0])
	assert.Equal(t, p.tmpDir, filepath.Dir(args[1]))
	assert.True(t, strings.HasSuffix(args[1], ".pdf"), args[1])
	assert.Equal(t, "-", args[2])
}

func TestPdfToText_Failure(t *testing.T) {
	p := NewPdfToText(fakeBin(t, `echo "Syntax Error: Couldn't find trailer" >&2; exit 1`))

	_, err := p.ExtractText(context.Background(), []byte("not a pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailer")
}

func TestPdfToText_Empty(t *testing.T) {
	_, err := NewPdfToText("").ExtractText(context.Background(), nil)
	require.Error(t, err)
}

func TestPdfToText_MissingBinary(t *testing.T) {
	p := NewPdfToText(filepath.Join(t.TempDir(), "nope"))
	_, err := p.ExtractText(context.Background(), []byte("%PDF"))
	require.Error(t, err)
}
