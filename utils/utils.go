package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func FindFilesByExtension(dir string, ext string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ext) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// PadIndex formats a 1-based index zero padded to the digit count of total.
func PadIndex(index, total int) string {
	width := len(fmt.Sprintf("%d", total))
	return fmt.Sprintf("%0*d", width, index)
}

// TrimExt returns the base name of path without its extension.
func TrimExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SafeJoin joins name under dir, dropping absolute and parent components.
func SafeJoin(dir string, name ...string) string {
	parts := []string{dir}
	for _, n := range name {
		n = strings.ReplaceAll(n, "\\", "/")
		for _, seg := range strings.Split(n, "/") {
			if seg == "" || seg == "." || seg == ".." {
				continue
			}
			parts = append(parts, seg)
		}
	}
	return filepath.Join(parts...)
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
