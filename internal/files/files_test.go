package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peterje/rec/internal/errs"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	require.NoError(t, Write(WriteRequest{Path: path, Content: "hello REC", CreateParents: true}))

	got, err := Read(ReadRequest{Path: path})
	require.NoError(t, err)
	require.Equal(t, "hello REC", got)
}

func TestWriteWithoutCreateParentsFailsOnMissingDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	err := Write(WriteRequest{Path: path, Content: "hello"})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.FileNotFound, appErr.Kind)
}

func TestReadMissingFileReturnsFileNotFound(t *testing.T) {
	_, err := Read(ReadRequest{Path: "/nonexistent/path/for/rec/tests"})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.FileNotFound, appErr.Kind)
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atomic.txt")

	require.NoError(t, Write(WriteRequest{Path: path, Content: "v1"}))
	require.NoError(t, Write(WriteRequest{Path: path, Content: "v2"}))

	got, err := Read(ReadRequest{Path: path})
	require.NoError(t, err)
	require.Equal(t, "v2", got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp files")
}

func TestReadWithStrictPolicyRejectsInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 'h', 'i'}, 0o644))

	_, err := Read(ReadRequest{Path: path, Errors: ErrorStrict})
	require.Error(t, err)

	var appErr *errs.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errs.DecodeError, appErr.Kind)
}

func TestReadWithBackslashReplacePolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 'h', 'i'}, 0o644))

	got, err := Read(ReadRequest{Path: path, Errors: ErrorBackslashReplace})
	require.NoError(t, err)
	require.Contains(t, got, `\xff`)
	require.Contains(t, got, "hi")
}

func TestUploadCopiesDirectoryRecursively(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, Upload(UploadRequest{SourcePath: src, TargetPath: dst}))

	got, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "b", string(got))
}
