// Package zip streams job artifacts into a zip archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"time"
)

// Entry is one file to archive. Name is the path inside the archive.
type Entry struct {
	Name string
	Path string
}

// WriteFiles copies every entry into a zip written to w. Entries are stored in order.
func WriteFiles(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", e.Name, err)
	}
	defer f.Close()

	modified := time.Now()
	if info, err := f.Stat(); err == nil {
		modified = info.ModTime()
	}
	dst, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", e.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip: write %s: %w", e.Name, err)
	}
	return nil
}
