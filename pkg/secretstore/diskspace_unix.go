//go:build unix

package secretstore

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func diskSpace(path string) (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		// If the directory doesn't exist yet, check parent
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return nil, fmt.Errorf("secretstore: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bfree) * bsize
	available := uint64(stat.Bavail) * bsize

	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}

	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPct,
	}, nil
}
