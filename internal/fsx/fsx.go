// Package fsx provides the small filesystem helpers shared by the
// workspace and pipeline packages: single-file and tree copies plus
// suffix-based cleanup of build output directories.
package fsx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies one regular file, creating parent directories and
// preserving the source's permission bits. An existing destination is
// truncated.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("fsx: %s is not a regular file", src)
	}
	return copyRegular(src, dst, info.Mode().Perm())
}

func copyRegular(src string, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

// CopyTree recursively copies the directory at src to dst. Regular
// files keep their permission bits; anything else is skipped.
func CopyTree(src string, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyRegular(path, target, info.Mode().Perm())
	})
}

// ReplaceTree removes dst entirely and copies src in its place.
func ReplaceTree(src string, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return CopyTree(src, dst)
}

// CopyDirFiles copies the regular files directly inside srcDir into
// dstDir and returns the copied names. Subdirectories are ignored.
func CopyDirFiles(srcDir string, dstDir string) ([]string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, err
	}
	var copied []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := CopyFile(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name())); err != nil {
			return copied, err
		}
		copied = append(copied, entry.Name())
	}
	return copied, nil
}

// CleanSuffixes deletes the files directly inside dir whose names end
// in any of the given suffixes. A missing dir is a no-op.
func CleanSuffixes(dir string, suffixes ...string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(entry.Name(), suffix) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}
