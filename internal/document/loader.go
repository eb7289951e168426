// Package document loads source files and splits them into logical pages
// for downstream chunking. Markdown files split at header boundaries; plain
// text files load as a single page. PDF extraction is an external concern
// and .pdf files are skipped.
package document

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads supported files into per-page text.
type Loader struct {
	markdown *markdownSplitter
	logger   *slog.Logger
}

// NewLoader creates a Loader with the given logger (slog.Default if nil).
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		markdown: newMarkdownSplitter(),
		logger:   logger,
	}
}

// Load reads one file and returns its pages. Unknown extensions are treated
// as plain text with a warning, matching permissive ingestion semantics.
func (l *Loader) Load(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return l.loadMarkdown(path)
	case ".txt":
		return l.loadText(path)
	case ".pdf":
		return nil, fmt.Errorf("pdf extraction not supported: %s", path)
	default:
		l.logger.Warn("unsupported file type, treating as text", "path", path)
		return l.loadText(path)
	}
}

// LoadBytes splits already-read content by the conventions of the given
// filename. Used for uploaded blobs that never touch the filesystem.
func (l *Loader) LoadBytes(name string, content []byte) ([]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return l.markdown.Split(content)
	default:
		return []string{string(content)}, nil
	}
}

func (l *Loader) loadMarkdown(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	sections, err := l.markdown.Split(content)
	if err != nil {
		return nil, err
	}
	l.logger.Info("loaded markdown", "path", path, "sections", len(sections))
	return sections, nil
}

func (l *Loader) loadText(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	l.logger.Info("loaded text", "path", path)
	return []string{string(content)}, nil
}

// supportedExtensions are the file types ScanDir picks up.
var supportedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// ScanDir recursively collects paths of supported files under root, in
// deterministic (lexical walk) order.
func ScanDir(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}
