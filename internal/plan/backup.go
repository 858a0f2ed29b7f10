package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/errors"
)

// backupManifestName is the per-backup manifest file recording what was
// snapshotted and its checksums.
const backupManifestName = "manifest.json"

// backupTimestampLayout orders backup directories lexicographically by time.
const backupTimestampLayout = "20060102-150405"

// BackupManifest records the contents of one directory snapshot. Restore
// verifies every checksum before touching the plan, so a truncated or
// tampered backup is detected instead of propagated.
type BackupManifest struct {
	// ID uniquely identifies the backup.
	ID string `json:"id"`

	// PlanID is the plan the backup was taken from.
	PlanID string `json:"plan_id"`

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`

	// Files maps plan-relative paths to their SHA-256 hex digests.
	Files map[string]string `json:"files"`
}

// Backup is a timestamped full copy of the plan documents, created before
// any mutating batch. Backups are kept on disk for manual recovery; nothing
// in the core prunes them automatically.
type Backup struct {
	// Path is the backup directory.
	Path string `json:"path"`

	Manifest BackupManifest `json:"manifest"`
}

// CreateBackup snapshots the plan documents (orchestration, execution state,
// every phase file) into a new timestamped directory under .backups.
// Lock files, logs, and previous backups are not part of the snapshot.
func CreateBackup(planDir string) (*Backup, error) {
	files, err := planDocumentPaths(planDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no plan documents in %s", errors.ErrBackupFailed, planDir)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format(backupTimestampLayout), id[:8])
	backupDir := filepath.Join(planDir, BackupsDirName, name)

	manifest := BackupManifest{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]string, len(files)),
	}

	var orch Orchestration
	if err := ReadJSON(filepath.Join(planDir, OrchestrationFileName), &orch); err == nil {
		manifest.PlanID = orch.Metadata.PlanID
	}

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(planDir, rel))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", errors.ErrBackupFailed, rel, err)
		}

		dst := filepath.Join(backupDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
		}
		if err := AtomicWriteFile(dst, data, 0644); err != nil {
			return nil, fmt.Errorf("%w: write %s: %v", errors.ErrBackupFailed, rel, err)
		}

		sum := sha256.Sum256(data)
		manifest.Files[rel] = hex.EncodeToString(sum[:])
	}

	if err := WriteJSON(filepath.Join(backupDir, backupManifestName), &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrBackupFailed, err)
	}

	return &Backup{Path: backupDir, Manifest: manifest}, nil
}

// RestoreBackup restores a plan directory from a backup created by
// CreateBackup. Every checksum in the manifest is verified first; the plan
// is only touched once the whole backup is known good. Phase files that
// exist in the plan but not in the backup are removed, so the restore is a
// true snapshot restore rather than a merge.
func RestoreBackup(planDir, backupPath string) error {
	var manifest BackupManifest
	if err := ReadJSON(filepath.Join(backupPath, backupManifestName), &manifest); err != nil {
		return fmt.Errorf("%w: manifest: %v", errors.ErrRestoreFailed, err)
	}

	// Verify the whole backup before writing anything.
	contents := make(map[string][]byte, len(manifest.Files))
	for rel, wantSum := range manifest.Files {
		data, err := os.ReadFile(filepath.Join(backupPath, rel))
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", errors.ErrRestoreFailed, rel, err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantSum {
			return errors.NewExecutionError(errors.CodeChecksumMismatch,
				fmt.Sprintf("checksum mismatch for %s", rel), errors.ErrRestoreFailed)
		}
		contents[rel] = data
	}

	for rel, data := range contents {
		dst := filepath.Join(planDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrRestoreFailed, err)
		}
		if err := AtomicWriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("%w: write %s: %v", errors.ErrRestoreFailed, rel, err)
		}
	}

	// Remove documents created after the snapshot.
	current, err := planDocumentPaths(planDir)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrRestoreFailed, err)
	}
	for _, rel := range current {
		if _, ok := manifest.Files[rel]; !ok {
			if err := os.Remove(filepath.Join(planDir, rel)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: remove %s: %v", errors.ErrRestoreFailed, rel, err)
			}
		}
	}

	return nil
}

// ListBackups returns the backups under a plan directory, newest first.
func ListBackups(planDir string) ([]Backup, error) {
	backupsDir := filepath.Join(planDir, BackupsDirName)
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var manifest BackupManifest
		path := filepath.Join(backupsDir, e.Name())
		if err := ReadJSON(filepath.Join(path, backupManifestName), &manifest); err != nil {
			continue // not a backup directory
		}
		backups = append(backups, Backup{Path: path, Manifest: manifest})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Manifest.CreatedAt.After(backups[j].Manifest.CreatedAt)
	})
	return backups, nil
}

// PruneBackups removes all but the newest keep backups. Returns the number
// of backups removed. Pruning is explicit only; the core never calls this.
func PruneBackups(planDir string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	backups, err := ListBackups(planDir)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	removed := 0
	for _, b := range backups[keep:] {
		if err := os.RemoveAll(b.Path); err != nil {
			return removed, fmt.Errorf("failed to prune backup %s: %w", b.Path, err)
		}
		removed++
	}
	return removed, nil
}

// planDocumentPaths returns plan-relative paths of every plan document:
// the orchestration document, the execution state, and all phase files.
func planDocumentPaths(planDir string) ([]string, error) {
	var paths []string

	for _, name := range []string{OrchestrationFileName, ExecutionStateFileName} {
		if FileExists(filepath.Join(planDir, name)) {
			paths = append(paths, name)
		}
	}

	entries, err := os.ReadDir(filepath.Join(planDir, PhasesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return paths, nil
		}
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		paths = append(paths, filepath.Join(PhasesDirName, name))
	}

	sort.Strings(paths)
	return paths, nil
}
