package filescanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "runbook-a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "runbook-b.md"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ccc"), 0o644))
	sub := filepath.Join(root, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "runbook-c.md"), []byte("dddd"), 0o644))
	return root
}

func TestScan_NonRecursiveMatchesTopLevelOnly(t *testing.T) {
	root := setupTree(t)

	s := New()
	files, err := s.Scan(context.Background(), root, "*.md", false)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestScan_RecursiveDescendsIntoSubdirectories(t *testing.T) {
	root := setupTree(t)

	s := New()
	files, err := s.Scan(context.Background(), root, "*.md", true)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestScan_EmptyPatternMatchesEverything(t *testing.T) {
	root := setupTree(t)

	s := New()
	files, err := s.Scan(context.Background(), root, "", true)
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestScan_MissingDirectoryIsValidationError(t *testing.T) {
	s := New()
	_, err := s.Scan(context.Background(), "/nonexistent/dir", "*.md", false)
	assert.Error(t, err)
}
