// Package filescanner implements capability.FileScanner over stdlib
// path/filepath walking — no third-party file-tree library appears in
// the example pack, so like logparser this is grounded directly on the
// standard library.
package filescanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

type Scanner struct{}

func New() *Scanner {
	return &Scanner{}
}

// Scan implements capability.FileScanner.
func (s *Scanner) Scan(ctx context.Context, dir, pattern string, recursive bool) ([]capability.FileInfo, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "scan directory")
	}

	var files []capability.FileInfo

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if pattern != "" {
			matched, matchErr := filepath.Match(pattern, filepath.Base(path))
			if matchErr != nil {
				return matchErr
			}
			if !matched {
				return nil
			}
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files = append(files, capability.FileInfo{
			Path:  path,
			Mtime: info.ModTime().Unix(),
			Size:  info.Size(),
		})
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "walk directory")
	}
	return files, nil
}
