package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"webrag/internal/port"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "# A")
	writeFile(t, filepath.Join(root, "docs", "b.txt"), "b")
	writeFile(t, filepath.Join(root, "docs", "c.go"), "package c")
	writeFile(t, filepath.Join(root, "node_modules", "d.md"), "d")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/node_modules/**"})
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
	if filepath.Base(files[0].Path) != "a.md" || filepath.Base(files[1].Path) != "b.txt" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestWalker_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.go")
	writeFile(t, path, "x")

	files, err := NewWalker([]string{"**/*.md"}, nil).Walk(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Size != 1 {
		t.Errorf("expected the file itself, got %v", files)
	}
}

func TestLoadDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "page.html"), "<html><head><title>Page</title></head><body><nav>menu</nav><p>Body text.</p></body></html>")
	writeFile(t, filepath.Join(root, "notes.txt"), "plain notes")

	files, err := NewWalker(nil, nil).Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := LoadDocuments(files, Reader{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	if docs[0].Title != "notes" || docs[0].Content != "plain notes" {
		t.Errorf("unexpected text document: %+v", docs[0])
	}
	if docs[1].Title != "Page" || docs[1].Content != "Body text." {
		t.Errorf("unexpected html document: %+v", docs[1])
	}
}

type listWalker []port.FileInfo

func (l listWalker) Walk(string) ([]port.FileInfo, error) { return l, nil }

type mapReader map[string]string

func (m mapReader) ReadFile(path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", errors.New("missing " + path)
	}
	return text, nil
}

func TestLoadDir(t *testing.T) {
	walker := listWalker{{Path: "/mem/a.md"}, {Path: "/mem/b.htm"}}
	reader := mapReader{
		"/mem/a.md":  "alpha",
		"/mem/b.htm": "<html><head><title>Beta</title></head><body><p>beta body</p></body></html>",
	}

	docs, err := LoadDir(walker, reader, "/mem")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].SourceID != "/mem/a.md" || docs[0].Content != "alpha" {
		t.Errorf("unexpected document: %+v", docs[0])
	}
	if docs[1].Title != "Beta" || docs[1].Content != "beta body" {
		t.Errorf("unexpected html document: %+v", docs[1])
	}

	if _, err := LoadDir(listWalker{}, reader, "/mem"); err == nil {
		t.Error("expected an error when nothing matches")
	}
	if _, err := LoadDir(listWalker{{Path: "/mem/c.txt"}}, reader, "/mem"); err == nil {
		t.Error("expected the reader error")
	}
}
