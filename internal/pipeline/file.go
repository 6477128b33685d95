package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a pipeline stored on disk:
//
//	name: outline
//	snapshots: [0]
//	steps:
//	  - id: grayscale
//	  - id: canny_edge
//	    params: {threshold1: 50, threshold2: 150}
type File struct {
	Name      string `yaml:"name,omitempty"`
	Snapshots []int  `yaml:"snapshots,omitempty"`
	Steps     []Step `yaml:"steps"`
}

// LoadFile reads and parses a pipeline file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	f, err := ParseFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFile decodes a pipeline document. Unknown fields are rejected so
// typos in step keys surface instead of being dropped.
func ParseFile(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline file is empty")
		}
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}

	for i, step := range f.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("step %d has no id", i)
		}
	}
	for _, pos := range f.Snapshots {
		if pos < 0 || pos >= len(f.Steps) {
			return nil, fmt.Errorf("snapshot position %d is outside the pipeline (%d steps)", pos, len(f.Steps))
		}
	}
	return &f, nil
}
