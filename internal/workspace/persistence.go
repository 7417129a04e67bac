package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"loom/internal/layout"
)

// Document is the persisted shape of a workspace: mode, the container tree
// with its leaf-to-preset bindings, and per-session metadata. Written on
// clean shutdown or explicit save, loaded at startup.
type Document struct {
	Mode     string                   `yaml:"mode"`
	Layout   string                   `yaml:"layout"`
	Tree     *layout.NodeSpec         `yaml:"tree,omitempty"`
	Sessions map[string]SessionRecord `yaml:"sessions,omitempty"`
}

// SessionRecord keys the document's per-session metadata by the session id
// the layout tree leaves reference.
type SessionRecord struct {
	Preset string `yaml:"preset,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
	Branch string `yaml:"branch,omitempty"`
}

// LoadDocument reads a persisted workspace. A missing file yields nil.
func LoadDocument(path string) (*Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse workspace document: %w", err)
	}
	return &doc, nil
}

// Save writes the document atomically: temp file in the same directory,
// then rename.
func (d *Document) Save(path string) error {
	payload, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode workspace document: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".workspace-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write workspace document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close workspace document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace workspace document: %w", err)
	}
	return nil
}
