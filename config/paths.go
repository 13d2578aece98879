package config

import (
	"os"
	"path/filepath"
)

// Paths are the filesystem locations the server reads its assets from.
// They are computed once at startup and never change afterwards.
type Paths struct {
	Source    string // The file the root was derived from, empty when overridden
	Root      string
	Static    string
	Templates string
}

// ResolvePaths derives the project root by ascending depth parent directories
// from sourceFile, unless override is set.
func ResolvePaths(sourceFile string, depth int, override string) Paths {
	var root string

	if override != "" {
		root = override
		sourceFile = ""
	} else {
		root = sourceFile
		for i := 0; i < depth; i++ {
			root = filepath.Dir(root)
		}
	}

	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	return Paths{
		Source:    sourceFile,
		Root:      root,
		Static:    filepath.Join(root, "static"),
		Templates: filepath.Join(root, "templates"),
	}
}

// StaticExists reports whether the static directory is present on disk.
func (p Paths) StaticExists() bool {
	return isDir(p.Static)
}

// TemplatesExists reports whether the templates directory is present on disk.
func (p Paths) TemplatesExists() bool {
	return isDir(p.Templates)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
