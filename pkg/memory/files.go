package memory

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileEntry is a candidate file discovered under the workspace.
type FileEntry struct {
	Path    string // slash-separated, relative to the workspace root
	AbsPath string
	Source  string
	Size    int64
	MTime   int64 // unix milliseconds
}

// ReadResult is a slice of a memory file.
type ReadResult struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// EnsureMemoryDirectory creates the memory directory if it doesn't exist
func EnsureMemoryDirectory(basePath string) (string, error) {
	memoryPath := filepath.Join(basePath, "memory")

	info, err := os.Stat(memoryPath)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("memory path exists but is not a directory: %s", memoryPath)
		}
		return memoryPath, nil
	}

	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat memory directory: %w", err)
	}

	if err := os.MkdirAll(memoryPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create memory directory: %w", err)
	}

	return memoryPath, nil
}

func isMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// ListMemoryFiles enumerates MEMORY.md, memory.md, memory/**/*.md and any
// extra paths (files or directories, relative to root or absolute). Symlinks
// are never followed or indexed.
func ListMemoryFiles(root, source string, extraPaths []string) ([]FileEntry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	seen := make(map[string]bool)
	var entries []FileEntry

	add := func(abs string, info fs.FileInfo) {
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = abs
		}
		rel = filepath.ToSlash(rel)
		if seen[rel] {
			return
		}
		seen[rel] = true
		entries = append(entries, FileEntry{
			Path:    rel,
			AbsPath: abs,
			Source:  source,
			Size:    info.Size(),
			MTime:   info.ModTime().UnixMilli(),
		})
	}

	addFile := func(abs string) {
		info, err := os.Lstat(abs)
		if err != nil || !info.Mode().IsRegular() || !isMarkdown(abs) {
			return
		}
		add(abs, info)
	}

	walk := func(dir string) error {
		info, err := os.Lstat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if d.IsDir() || !isMarkdown(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			add(path, info)
			return nil
		})
	}

	addFile(filepath.Join(absRoot, "MEMORY.md"))
	addFile(filepath.Join(absRoot, "memory.md"))
	if err := walk(filepath.Join(absRoot, "memory")); err != nil {
		return nil, fmt.Errorf("failed to walk memory directory: %w", err)
	}

	for _, p := range extraPaths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(absRoot, p)
		}
		info, err := os.Lstat(abs)
		if err != nil {
			continue
		}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
		case info.IsDir():
			if err := walk(abs); err != nil {
				return nil, fmt.Errorf("failed to walk %s: %w", p, err)
			}
		default:
			addFile(abs)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ValidateMemoryPath validates that a path is safe for memory operations
func ValidateMemoryPath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative, got absolute path: %s", path)
	}

	cleanPath := filepath.Clean(filepath.FromSlash(path))
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path cannot reference parent directories: %s", path)
	}

	if !isMarkdown(cleanPath) {
		return fmt.Errorf("path must end with .md: %s", path)
	}

	return nil
}

// ResolveReadPath maps a relative memory path to a file inside root.
func ResolveReadPath(root, relativePath string) (string, error) {
	if err := ValidateMemoryPath(relativePath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute base path: %w", err)
	}

	absFull := filepath.Join(absBase, filepath.FromSlash(relativePath))
	rel, err := filepath.Rel(absBase, absFull)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes base directory: %s", relativePath)
	}

	info, err := os.Lstat(absFull)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", relativePath)
	}

	return absFull, nil
}

// ReadLines returns count lines of the file starting at the 1-indexed line
// from. from <= 0 starts at the first line; count <= 0 reads to the end.
func ReadLines(path string, from, count int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if from <= 0 {
		from = 1
	}

	var (
		out []string
		n   int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
		if n < from {
			continue
		}
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}
