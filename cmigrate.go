// Package cmigrate provides a minimal public API for driving course
// migrations programmatically.
//
// Most automation should use the cmigrate CLI. This package exports only
// the essential types and functions needed for Go programs that want to
// embed a migration run, e.g. batch tooling that migrates many courses.
package cmigrate

import (
	"github.com/courseware-hq/cmigrate/internal/bundle"
	"github.com/courseware-hq/cmigrate/internal/canvas"
	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/pipeline"
	"github.com/courseware-hq/cmigrate/internal/types"
)

// Core types for working with exports and runs
type (
	Record     = types.Record
	Kind       = types.Kind
	ModuleItem = types.ModuleItem
	Bundle     = bundle.Bundle
	Map        = idmap.Map
	Pipeline   = pipeline.Pipeline
	Result     = pipeline.Result
	Counters   = pipeline.Counters
	Stage      = pipeline.Stage
)

// Client is the remote surface a run drives; satisfy it with a fake for
// dry runs against recorded fixtures.
type Client = canvas.Client

// OpenBundle opens an export tree rooted at dir.
func OpenBundle(dir string) (*Bundle, error) {
	return bundle.Open(dir)
}

// NewMap returns an empty identifier map.
func NewMap() *Map {
	return idmap.New()
}

// LoadMap restores an identifier map saved by a previous run.
func LoadMap(path string) (*Map, error) {
	return idmap.LoadFile(path)
}

// NewClient creates an HTTP client for the target course on a Canvas instance.
func NewClient(baseURL, token string, courseID int64) *canvas.HTTPClient {
	return canvas.NewHTTPClient(baseURL, token, courseID)
}

// NewPipeline assembles a migration run over an opened bundle.
func NewPipeline(source pipeline.Source, client Client, m *Map, targetCourseID int64) *Pipeline {
	return pipeline.New(source, client, m, targetCourseID)
}
