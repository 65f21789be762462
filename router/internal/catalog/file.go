package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Document is the on-disk layout of a stream catalog file.
type Document struct {
	Streams []*streams.Stream `yaml:"streams" json:"streams"`
}

// FileCatalog reads a YAML document on every load so edits are picked up by
// the next rebuild.
type FileCatalog struct {
	path string
}

// NewFileCatalog creates a catalog backed by the YAML file at path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// Path returns the backing file path.
func (c *FileCatalog) Path() string {
	return c.path
}

// LoadEnabledStreams implements Catalog.
func (c *FileCatalog) LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream catalog: %w", err)
	}
	doc, err := ParseDocument(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream catalog %s: %w", c.path, err)
	}
	return normalize(doc.Streams)
}

// ParseDocument decodes a catalog document. Unknown keys are rejected.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, err
	}
	return &doc, nil
}
