// Package scan finds syncable images under local folders.
package scan

import (
	"io/fs"
	"path/filepath"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/pkg/protocol"
)

// Images returns every image file below dir, recursively, in lexical order.
// Unreadable subdirectories are logged and skipped.
func Images(dir string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			logging.Warn("skipping unreadable path", logging.String("path", path), logging.Err(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && protocol.IsImage(path) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// Folders scans each folder and concatenates the results. A folder that
// cannot be read is logged and skipped.
func Folders(dirs []string) []string {
	var images []string
	for _, dir := range dirs {
		found, err := Images(dir)
		if err != nil {
			logging.Error("scan sync folder", logging.String("dir", dir), logging.Err(err))
			continue
		}
		images = append(images, found...)
	}
	return images
}
