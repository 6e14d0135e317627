// Package download saves compressed output to the local filesystem.
package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultFilename is the name a downloaded result is saved under.
const DefaultFilename = "compressed_image.jpg"

// Save writes data to dir/name through a temporary file and a rename, so a
// reader never observes a partially written file. An empty name means
// DefaultFilename. It returns the final path.
func Save(dir, name string, data []byte) (string, error) {
	if name == "" {
		name = DefaultFilename
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}

	outPath := filepath.Join(dir, name)
	tmpPath := outPath + ".tmp"

	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return outPath, nil
}

// CompressedName derives the output name for a source file in batch mode:
// "photos/cat.PNG" becomes "cat_compressed.jpg".
func CompressedName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "image"
	}
	return stem + "_compressed.jpg"
}

// ETag returns a strong entity tag for data.
func ETag(data []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))
}

// ContentDisposition returns the header value that makes browsers save the
// response as name.
func ContentDisposition(name string) string {
	if name == "" {
		name = DefaultFilename
	}
	return fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(name, `"`, ""))
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
