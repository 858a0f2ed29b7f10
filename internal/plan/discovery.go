package plan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/planforge/planforge/internal/logging"
)

// IsPlanDir reports whether dir holds a plan (an orchestration document
// exists directly inside it).
func IsPlanDir(dir string) bool {
	return FileExists(filepath.Join(dir, OrchestrationFileName))
}

// FindPlans walks root and returns every plan directory found, sorted.
// Backup snapshots are skipped so a restored-from directory is not reported
// twice. The walk tolerates unreadable subtrees; they are simply skipped.
func FindPlans(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var plans []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == BackupsDirName || name == LogsBackupDirName || name == logging.LogDirName {
			return filepath.SkipDir
		}
		if IsPlanDir(path) {
			plans = append(plans, path)
			// Plans do not nest; no need to descend further.
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(plans)
	return plans, nil
}
