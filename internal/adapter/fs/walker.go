// Package fs lists and reads local documents for ingestion.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"webrag/internal/adapter/crawler"
	"webrag/internal/domain"
	"webrag/internal/port"
)

var (
	_ port.FileWalker = (*Walker)(nil)
	_ port.FileReader = Reader{}
)

type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns the files under root matching the include patterns and none
// of the exclude patterns, sorted by path. A root that is a single file is
// returned as is.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []port.FileInfo{{Path: root, ModTime: st.ModTime().Unix(), Size: st.Size()}}, nil
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, port.FileInfo{
				Path:    path,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// Reader reads files as text.
type Reader struct{}

func (Reader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadDir walks root with walker and loads every listed file through
// reader. It fails when nothing matches.
func LoadDir(walker port.FileWalker, reader port.FileReader, root string) ([]domain.Document, error) {
	files, err := walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no matching documents under %s", root)
	}
	return LoadDocuments(files, reader)
}

// LoadDocuments turns files into documents. HTML files are reduced to their
// readable text; other files are taken verbatim.
func LoadDocuments(files []port.FileInfo, reader port.FileReader) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(files))
	for _, f := range files {
		text, err := reader.ReadFile(f.Path)
		if err != nil {
			return nil, err
		}

		title := strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))
		switch strings.ToLower(filepath.Ext(f.Path)) {
		case ".html", ".htm", ".xhtml":
			page, err := crawler.ExtractHTML(strings.NewReader(text))
			if err != nil {
				return nil, err
			}
			text = page.Text()
			if page.Title != "" {
				title = page.Title
			}
		}

		docs = append(docs, domain.Document{
			SourceID: f.Path,
			Title:    title,
			Content:  text,
		})
	}
	return docs, nil
}
