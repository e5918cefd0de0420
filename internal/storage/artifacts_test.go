package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutAndGet(t *testing.T) {
	s := NewStore(t.TempDir())
	src := writeTemp(t, "report.sarif", `{"runs":[]}`)

	ref, err := s.Put("sast-scan", "report.sarif", src)
	require.NoError(t, err)
	assert.Equal(t, "sast-scan/report.sarif", ref.Key)
	assert.Equal(t, int64(11), ref.Size)

	sum := sha256.Sum256([]byte(`{"runs":[]}`))
	assert.Equal(t, hex.EncodeToString(sum[:]), ref.SHA256)

	got, err := s.Get("sast-scan", "report.sarif")
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestPutIsWriteOnce(t *testing.T) {
	s := NewStore(t.TempDir())
	src := writeTemp(t, "a.json", "one")

	_, err := s.Put("job", "a.json", src)
	require.NoError(t, err)

	_, err = s.Put("job", "a.json", src)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestKeysAreNamespacedByJob(t *testing.T) {
	s := NewStore(t.TempDir())
	src1 := writeTemp(t, "report.json", "from job one")
	src2 := writeTemp(t, "report.json", "from job two")

	// Two jobs may use the same artifact name without colliding.
	ref1, err := s.Put("job-one", "report.json", src1)
	require.NoError(t, err)
	ref2, err := s.Put("job-two", "report.json", src2)
	require.NoError(t, err)
	assert.NotEqual(t, ref1.Path, ref2.Path)
	assert.NotEqual(t, ref1.SHA256, ref2.SHA256)
}

func TestGetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("nobody", "nothing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	s := NewStore(t.TempDir())

	refs, err := s.List("empty-job")
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = s.Put("scan", "b.json", writeTemp(t, "b.json", "bb"))
	require.NoError(t, err)
	_, err = s.Put("scan", "a.json", writeTemp(t, "a.json", "aa"))
	require.NoError(t, err)

	refs, err = s.List("scan")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "scan/a.json", refs[0].Key)
	assert.Equal(t, "scan/b.json", refs[1].Key)
}

func TestPutStripsPathComponents(t *testing.T) {
	s := NewStore(t.TempDir())
	src := writeTemp(t, "deep.json", "x")

	ref, err := s.Put("job", "nested/dir/deep.json", src)
	require.NoError(t, err)
	assert.Equal(t, "job/deep.json", ref.Key)
}

func TestSaveStepLog(t *testing.T) {
	s := NewStore(t.TempDir())

	path, err := s.SaveStepLog("sast-scan", "semgrep run", "tool output here\n")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tool output here\n", string(data))

	// Step names with shell characters become safe filenames.
	assert.Equal(t, "semgrep_run.log", filepath.Base(path))
}
