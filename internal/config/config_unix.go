//go:build !windows

package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openConfigFile opens the config file with O_NOFOLLOW to reject symlinks
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("config: failed to open file: %w", err)
	}
	return f, nil
}

func checkPermissions(info os.FileInfo) error {
	if perm := info.Mode().Perm(); perm != 0600 {
		return fmt.Errorf("%w: %o (expected 0600)", ErrInsecure, perm)
	}
	return nil
}

// checkFileOwnership verifies the file is owned by the current user
func checkFileOwnership(info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if ok && stat.Uid != uint32(os.Getuid()) {
		return ErrNotOwnedByUser
	}
	return nil
}
