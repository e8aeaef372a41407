package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"show_notes.md": "# Notes",
		"speech.mp3":    "ID3",
	}
	var entries []Entry
	for _, name := range []string{"show_notes.md", "speech.mp3"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, Entry{Name: "job/" + name, Path: path})
	}

	var buf bytes.Buffer
	if err := WriteFiles(&buf, entries); err != nil {
		t.Fatalf("WriteFiles error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != entries[i].Name {
			t.Fatalf("entry %d = %q, want %q", i, f.Name, entries[i].Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if want := files[filepath.Base(f.Name)]; string(data) != want {
			t.Fatalf("entry %s = %q, want %q", f.Name, data, want)
		}
	}
}

func TestWriteFilesMissing(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFiles(&buf, []Entry{{Name: "x", Path: filepath.Join(t.TempDir(), "missing")}})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
