// Package idmap tracks old→new identifier associations across a migration
// run.
//
// Every entity created on the target instance receives a brand-new
// identifier. The map is the single source of truth for those resolutions:
// stage handlers write their own namespace and read the namespaces populated
// by earlier stages, and the link rewriter reads all of them in its final
// pass. Consumers must tolerate absent keys (a partially populated map is the
// normal state mid-run) by skipping or deferring, never by failing the run.
package idmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Namespace partitions the map by entity kind. The names match the persisted
// snapshot keys, so they are part of the on-disk format.
type Namespace string

const (
	Pages            Namespace = "pages"
	PagesURL         Namespace = "pages_url" // slug → slug, separate from numeric page ids
	Assignments      Namespace = "assignments"
	AssignmentGroups Namespace = "assignment_groups"
	Quizzes          Namespace = "quizzes"
	Discussions      Namespace = "discussions"
	Files            Namespace = "files"
	Modules          Namespace = "modules"
	Rubrics          Namespace = "rubrics"
	GradingStandards Namespace = "grading_standards"
)

// numericNamespaces hold integer identifiers on both sides; their snapshot
// values are written as JSON numbers.
var numericNamespaces = map[Namespace]bool{
	Pages:            true,
	Assignments:      true,
	AssignmentGroups: true,
	Quizzes:          true,
	Discussions:      true,
	Files:            true,
	Modules:          true,
	Rubrics:          true,
	GradingStandards: true,
}

// ConflictError reports an attempt to rebind an already-registered source
// identifier to a different target. This always indicates a logic bug or a
// corrupted prior-run snapshot, so callers treat it as fatal.
type ConflictError struct {
	Namespace Namespace
	SourceID  string
	Existing  string
	Proposed  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idmap: %s/%s already mapped to %s, refusing rebind to %s",
		e.Namespace, e.SourceID, e.Existing, e.Proposed)
}

// UnresolvedReferenceError reports a required dependency that has no mapping
// yet. It is recoverable: the dependent item is skipped, never the run.
type UnresolvedReferenceError struct {
	Namespace Namespace
	SourceID  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("idmap: no mapping for %s/%s", e.Namespace, e.SourceID)
}

// IsUnresolved reports whether err is an UnresolvedReferenceError.
func IsUnresolved(err error) bool {
	var u *UnresolvedReferenceError
	return errors.As(err, &u)
}

// Map is a namespaced store of source→target identifier resolutions.
// Writes are serialized per map; the zero value is not usable, call New.
type Map struct {
	mu sync.Mutex
	ns map[Namespace]map[string]string
}

// New returns an empty map.
func New() *Map {
	return &Map{ns: make(map[Namespace]map[string]string)}
}

// Put registers a resolution. Re-registering the same value is a no-op so
// re-runs against a loaded snapshot are safe; registering a different value
// returns a ConflictError.
func (m *Map) Put(ns Namespace, sourceID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.ns[ns]
	if bucket == nil {
		bucket = make(map[string]string)
		m.ns[ns] = bucket
	}
	if existing, ok := bucket[sourceID]; ok {
		if existing == targetID {
			return nil
		}
		return &ConflictError{Namespace: ns, SourceID: sourceID, Existing: existing, Proposed: targetID}
	}
	bucket[sourceID] = targetID
	return nil
}

// PutInt is Put for numeric namespaces.
func (m *Map) PutInt(ns Namespace, sourceID, targetID int64) error {
	return m.Put(ns, strconv.FormatInt(sourceID, 10), strconv.FormatInt(targetID, 10))
}

// Get looks up a resolution, reporting whether it exists.
func (m *Map) Get(ns Namespace, sourceID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ns[ns][sourceID]
	return v, ok
}

// GetInt is Get for numeric namespaces. A present but non-numeric value
// reports absent.
func (m *Map) GetInt(ns Namespace, sourceID int64) (int64, bool) {
	v, ok := m.Get(ns, strconv.FormatInt(sourceID, 10))
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Require looks up a resolution and returns an UnresolvedReferenceError when
// absent. Handlers that cannot proceed without the dependency use this.
func (m *Map) Require(ns Namespace, sourceID string) (string, error) {
	v, ok := m.Get(ns, sourceID)
	if !ok {
		return "", &UnresolvedReferenceError{Namespace: ns, SourceID: sourceID}
	}
	return v, nil
}

// RequireInt is Require for numeric namespaces.
func (m *Map) RequireInt(ns Namespace, sourceID int64) (int64, error) {
	key := strconv.FormatInt(sourceID, 10)
	v, err := m.Require(ns, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &UnresolvedReferenceError{Namespace: ns, SourceID: key}
	}
	return n, nil
}

// Len returns the number of entries in a namespace.
func (m *Map) Len(ns Namespace) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ns[ns])
}

// Snapshot exports the full contents as a nested mapping for persistence and
// external inspection. The result is a deep copy.
func (m *Map) Snapshot() map[Namespace]map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Namespace]map[string]string, len(m.ns))
	for ns, bucket := range m.ns {
		cp := make(map[string]string, len(bucket))
		for k, v := range bucket {
			cp[k] = v
		}
		out[ns] = cp
	}
	return out
}

// Load merges a snapshot into the map, enabling resumed runs. Conflicting
// entries surface as ConflictError.
func (m *Map) Load(snapshot map[Namespace]map[string]string) error {
	for ns, bucket := range snapshot {
		for k, v := range bucket {
			if err := m.Put(ns, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalJSON writes the snapshot with numeric target values for numeric
// namespaces, matching the persisted form external tooling consumes, e.g.
// {"files": {"3001": 9001}, "pages_url": {"welcome": "welcome-2"}}.
func (m *Map) MarshalJSON() ([]byte, error) {
	snap := m.Snapshot()

	out := make(map[string]map[string]any, len(snap))
	for ns, bucket := range snap {
		enc := make(map[string]any, len(bucket))
		for k, v := range bucket {
			if numericNamespaces[ns] {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					enc[k] = n
					continue
				}
			}
			enc[k] = v
		}
		out[string(ns)] = enc
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both numeric and string target values.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var generic map[string]map[string]any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("idmap: parsing snapshot: %w", err)
	}

	if m.ns == nil {
		m.ns = make(map[Namespace]map[string]string)
	}
	for ns, bucket := range generic {
		for k, v := range bucket {
			var val string
			switch t := v.(type) {
			case string:
				val = t
			case json.Number:
				val = t.String()
			default:
				return fmt.Errorf("idmap: namespace %s key %s: unsupported value %T", ns, k, v)
			}
			if err := m.Put(Namespace(ns), k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveFile writes the snapshot to path atomically (temp file + rename), with
// stable key order for diff-friendly output.
func (m *Map) SaveFile(path string) error {
	data, err := m.marshalStable()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("idmap: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".idmap-*")
	if err != nil {
		return fmt.Errorf("idmap: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("idmap: writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("idmap: closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("idmap: replacing %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a previously saved snapshot. A missing file yields an empty
// map, so first runs and resumed runs share one code path.
func LoadFile(path string) (*Map, error) {
	m := New()
	data, err := os.ReadFile(path) // #nosec G304 - controlled path from config
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idmap: reading %s: %w", path, err)
	}
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

// marshalStable renders the snapshot with sorted namespaces and keys.
func (m *Map) marshalStable() ([]byte, error) {
	snap := m.Snapshot()

	names := make([]string, 0, len(snap))
	for ns := range snap {
		names = append(names, string(ns))
	}
	sort.Strings(names)

	var buf []byte
	buf = append(buf, '{')
	for i, name := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '\n', ' ', ' ')
		nsKey, _ := json.Marshal(name)
		buf = append(buf, nsKey...)
		buf = append(buf, ':', ' ', '{')

		bucket := snap[Namespace(name)]
		keys := make([]string, 0, len(bucket))
		for k := range bucket {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for j, k := range keys {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, '\n', ' ', ' ', ' ', ' ')
			kk, _ := json.Marshal(k)
			buf = append(buf, kk...)
			buf = append(buf, ':', ' ')
			v := bucket[k]
			if numericNamespaces[Namespace(name)] {
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					buf = append(buf, v...)
					continue
				}
			}
			vv, _ := json.Marshal(v)
			buf = append(buf, vv...)
		}
		if len(keys) > 0 {
			buf = append(buf, '\n', ' ', ' ')
		}
		buf = append(buf, '}')
	}
	if len(names) > 0 {
		buf = append(buf, '\n')
	}
	buf = append(buf, '}', '\n')
	return buf, nil
}
