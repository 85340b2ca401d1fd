// Package definition loads YAML form definitions, checks them at load time,
// and serves them from a registry that supports atomic hot reload.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/formengine/model"
)

// Loader scans directories for YAML definition files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// isDefinitionFile reports whether path has a YAML extension.
func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a DefinitionFile. Files are returned in walk order, which is
// lexical within each directory.
func (l *Loader) LoadAll(directories []string) ([]model.DefinitionFile, error) {
	var files []model.DefinitionFile

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}

			file, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			files = append(files, file)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return files, nil
}

// LoadFile loads and parses a single YAML definition file. Every form in the
// file inherits the file checksum, which keys per-form caches downstream.
func (l *Loader) LoadFile(path string) (model.DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DefinitionFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.Parse(path, data)
}

// Parse decodes definition YAML already in memory. path is recorded as the
// source file.
func (l *Loader) Parse(path string, data []byte) (model.DefinitionFile, error) {
	var file model.DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return model.DefinitionFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	file.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	file.SourceFile = path
	for i := range file.Forms {
		file.Forms[i].Checksum = file.Checksum
		file.Forms[i].SourceFile = path
	}

	return file, nil
}
