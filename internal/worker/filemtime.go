package worker

import (
	"os"

	"github.com/thebtf/memengine/pkg/models"
)

// captureFileMtimes stats every unique path across filesRead/filesModified and records its
// modification time, the snapshot CheckStaleness later compares against at read time.
// Unreadable paths (already deleted, permission denied, relative to a working directory this
// process doesn't share) are skipped rather than failing the observation — staleness
// tracking is best-effort, never a precondition for storing the observation itself.
func captureFileMtimes(filesRead, filesModified models.JSONStringArray) models.JSONInt64Map {
	paths := make(map[string]struct{}, len(filesRead)+len(filesModified))
	for _, p := range filesRead {
		paths[p] = struct{}{}
	}
	for _, p := range filesModified {
		paths[p] = struct{}{}
	}
	if len(paths) == 0 {
		return nil
	}

	mtimes := make(models.JSONInt64Map, len(paths))
	for p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mtimes[p] = info.ModTime().UnixMilli()
	}
	return mtimes
}
