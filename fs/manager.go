package fs

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santiagomed/forge/core"
	"github.com/spf13/afero"
)

// FileSystem wraps the Afero Fs interface
type FileSystem struct {
	Fs afero.Fs
}

// NewMemoryFileSystem creates a new in-memory file system
func NewMemoryFileSystem() *FileSystem {
	return &FileSystem{
		Fs: afero.NewMemMapFs(),
	}
}

// NewOsFileSystem creates a file system rooted at dir on disk. Paths outside dir are
// not reachable.
func NewOsFileSystem(dir string) *FileSystem {
	return &FileSystem{
		Fs: afero.NewBasePathFs(afero.NewOsFs(), dir),
	}
}

// FromArtifact returns an in-memory file system holding files.
func FromArtifact(files core.ArtifactSet) (*FileSystem, error) {
	fs := NewMemoryFileSystem()
	if err := fs.WriteArtifact(files); err != nil {
		return nil, err
	}
	return fs, nil
}

// WriteArtifact writes every file of the artifact, creating directories as needed.
func (fs *FileSystem) WriteArtifact(files core.ArtifactSet) error {
	for _, p := range files.Paths() {
		clean, err := core.CleanPath(p)
		if err != nil {
			return err
		}
		if err := fs.WriteFile(clean, files[p]); err != nil {
			return err
		}
	}
	return nil
}

// ReadArtifact reads every regular file below the root back into an artifact.
func (fs *FileSystem) ReadArtifact() (core.ArtifactSet, error) {
	files := make(core.ArtifactSet)
	err := afero.Walk(fs.Fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		content, err := afero.ReadFile(fs.Fs, p)
		if err != nil {
			return fmt.Errorf("error reading file %s: %w", p, err)
		}
		files[filepath.ToSlash(p)] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking file system: %w", err)
	}
	return files, nil
}

// WriteFile creates a new file with the given content or overwrites an existing file with the content
func (fs *FileSystem) WriteFile(p string, content string) error {
	dir := path.Dir(p)
	if err := fs.Fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}
	err := afero.WriteFile(fs.Fs, p, []byte(content), 0644)
	if err != nil {
		return fmt.Errorf("error writing file %s: %w", p, err)
	}
	return nil
}

// IsDir checks if a path is a directory
func (fs *FileSystem) IsDir(p string) bool {
	info, err := fs.Fs.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// HTTPHandler serves the file system, e.g. to a headless browser.
func (fs *FileSystem) HTTPHandler() http.Handler {
	return http.FileServer(relativeFS{afero.NewHttpFs(fs.Fs)})
}

// relativeFS maps request paths onto the relative paths files are stored under.
type relativeFS struct {
	http.FileSystem
}

func (r relativeFS) Open(name string) (http.File, error) {
	return r.FileSystem.Open(strings.TrimPrefix(name, "/"))
}

// WriteToZip writes the file system as a zip archive to w
func (fs *FileSystem) WriteToZip(w io.Writer) error {
	zipWriter := zip.NewWriter(w)

	fileCount := 0
	err := afero.Walk(fs.Fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip root directory
		if p == "." {
			return nil
		}

		zipPath := filepath.ToSlash(p)

		if info.IsDir() {
			_, err := zipWriter.Create(zipPath + "/")
			if err != nil {
				return fmt.Errorf("error creating zip entry for directory %s: %w", zipPath, err)
			}
			return nil
		}

		writer, err := zipWriter.Create(zipPath)
		if err != nil {
			return fmt.Errorf("error creating zip entry for file %s: %w", zipPath, err)
		}

		file, err := fs.Fs.Open(p)
		if err != nil {
			return fmt.Errorf("error opening file %s: %w", p, err)
		}
		defer file.Close()

		_, err = io.Copy(writer, file)
		if err != nil {
			return fmt.Errorf("error writing file %s to zip: %w", p, err)
		}

		fileCount++
		return nil
	})

	if err != nil {
		return fmt.Errorf("error walking file system: %w", err)
	}

	if fileCount == 0 {
		return fmt.Errorf("no files to zip")
	}

	err = zipWriter.Close()
	if err != nil {
		return fmt.Errorf("error closing zip writer: %w", err)
	}

	return nil
}

// WriteZipFile writes the zip archive to a file on disk.
func (fs *FileSystem) WriteZipFile(zipPath string) error {
	f, err := afero.NewOsFs().Create(zipPath)
	if err != nil {
		return fmt.Errorf("error creating zip file: %w", err)
	}
	defer f.Close()
	return fs.WriteToZip(f)
}

// ListFiles lists all files in the filesystem and returns a map representing the directory structure
func (fs *FileSystem) ListFiles() (map[string]interface{}, error) {
	structure := make(map[string]interface{})

	err := afero.Walk(fs.Fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Skip root directory
		if p == "." {
			return nil
		}

		parts := strings.Split(filepath.ToSlash(p), "/")
		current := structure
		for i, part := range parts {
			if i == len(parts)-1 {
				if info.IsDir() {
					if _, exists := current[part]; !exists {
						current[part] = make(map[string]interface{})
					}
				} else {
					current[part] = nil // Use nil to represent files
				}
			} else {
				if _, exists := current[part]; !exists {
					current[part] = make(map[string]interface{})
				}
				current = current[part].(map[string]interface{})
			}
		}
		return nil
	})

	return structure, err
}

// Tree renders the structure returned by ListFiles as an indented listing.
func Tree(structure map[string]interface{}) string {
	var b strings.Builder
	writeTree(&b, structure, "")
	return b.String()
}

func writeTree(b *strings.Builder, node map[string]interface{}, indent string) {
	names := make([]string, 0, len(node))
	for name := range node {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child, _ := node[name].(map[string]interface{})
		if child != nil {
			fmt.Fprintf(b, "%s%s/\n", indent, name)
			writeTree(b, child, indent+"  ")
			continue
		}
		fmt.Fprintf(b, "%s%s\n", indent, name)
	}
}
