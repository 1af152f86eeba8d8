package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hanpama/querycost/internal/costmap"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// loadSchema builds a schema from SDL files and applies the optional cost
// map. Entries of files may be glob patterns.
func loadSchema(files []string, costMap string) (*schema.Schema, error) {
	if len(files) == 0 {
		return nil, errors.New("no schema files given")
	}
	var sources []*language.Source
	for _, pattern := range files {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("schema pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("schema file %s: %w", pattern, os.ErrNotExist)
		}
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read schema: %w", err)
			}
			sources = append(sources, &language.Source{Name: path, Input: string(data)})
		}
	}
	s, err := schema.BuildFromSources(sources...)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	if costMap == "" {
		return s, nil
	}
	m, err := costmap.Load(costMap)
	if err != nil {
		return nil, err
	}
	if err := costmap.Apply(s, m); err != nil {
		return nil, fmt.Errorf("apply cost map: %w", err)
	}
	return s, nil
}
