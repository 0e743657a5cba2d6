// Package bundle reads a course export tree from disk and produces migration
// records.
//
// Expected layout under the bundle root:
//
//	course/course_metadata.json      course identity + optional settings block
//	course/settings.json             settings merged over the metadata block
//	course/rubrics/rubric_<id>.json  one rubric per file
//	course/rubric_links.json         rubric → assignment associations
//	pages/<dir>/page_metadata.json   plus index.html as the page body
//	assignment_groups/<dir>/assignment_group_metadata.json
//	assignments/**/assignment_metadata.json   plus optional description.html
//	quizzes/**/quiz_metadata.json             plus optional description.html
//	discussions/**/discussion_metadata.json   plus optional description.html
//	announcements/**/announcement_metadata.json
//	files/**/<name> with <name>.metadata.json sidecars
//	modules/modules.json             all modules with their item listings
//
// A missing directory means "nothing of that kind", not an error. Malformed
// entries are warned about and dropped so one bad export file cannot sink a
// whole run.
package bundle

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/courseware-hq/cmigrate/internal/types"
)

// Bundle is an opened export tree.
type Bundle struct {
	root           string
	sourceCourseID int64
}

// Open validates root and determines the source course id, preferring the
// course metadata file and falling back to a numeric directory name.
func Open(root string) (*Bundle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle path %s is not a directory", root)
	}

	b := &Bundle{root: root}
	if course, err := b.Course(); err == nil && course != nil && course.SourceID != 0 {
		b.sourceCourseID = course.SourceID
	} else if n, err := strconv.ParseInt(filepath.Base(root), 10, 64); err == nil {
		b.sourceCourseID = n
	}
	return b, nil
}

// Root returns the bundle's root directory.
func (b *Bundle) Root() string { return b.root }

// SourceCourseID returns the exporting course's id, or 0 when it could not be
// determined.
func (b *Bundle) SourceCourseID() int64 { return b.sourceCourseID }

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 - paths come from the export tree
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func readTextIfExists(path string) string {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return ""
	}
	return string(data)
}

// Course reads course identity and settings. The standalone settings.json, if
// present, is merged over the metadata's settings block, matching how the
// export was assembled in two passes.
func (b *Bundle) Course() (*types.CourseRecord, error) {
	courseDir := filepath.Join(b.root, "course")
	metaPath := filepath.Join(courseDir, "course_metadata.json")
	settingsPath := filepath.Join(courseDir, "settings.json")

	var raw struct {
		ID         int64          `json:"id"`
		Name       string         `json:"name"`
		CourseCode string         `json:"course_code"`
		Blueprint  bool           `json:"blueprint"`
		Settings   map[string]any `json:"settings"`
	}
	metaErr := readJSON(metaPath, &raw)

	settings := map[string]any{}
	for k, v := range raw.Settings {
		settings[k] = v
	}
	var fileSettings map[string]any
	if err := readJSON(settingsPath, &fileSettings); err == nil {
		for k, v := range fileSettings {
			settings[k] = v
		}
	} else if metaErr != nil {
		return nil, fmt.Errorf("no course metadata under %s", courseDir)
	}

	return &types.CourseRecord{
		SourceID:   raw.ID,
		Name:       raw.Name,
		CourseCode: raw.CourseCode,
		Blueprint:  raw.Blueprint,
		Settings:   settings,
	}, nil
}

// List reads all records of one kind. Order is whatever the filesystem
// yields; callers needing display order sort via the resolver.
func (b *Bundle) List(kind types.Kind) ([]*types.Record, error) {
	switch kind {
	case types.KindPage:
		return b.loadPages()
	case types.KindAssignment:
		return b.loadAssignments()
	case types.KindQuiz:
		return b.loadQuizzes()
	case types.KindDiscussion:
		return b.loadDiscussions()
	case types.KindFile:
		return b.loadFiles()
	case types.KindModule:
		return b.loadModules()
	case types.KindRubric:
		return b.loadRubrics()
	case types.KindAssignmentGroup:
		return b.loadAssignmentGroups()
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

// Scan counts exportable entities per kind without fully decoding bodies.
func (b *Bundle) Scan() (map[types.Kind]int, error) {
	counts := make(map[types.Kind]int)
	for _, kind := range append(types.LeafKinds(),
		types.KindAssignmentGroup, types.KindModule, types.KindRubric) {
		records, err := b.List(kind)
		if err != nil {
			return nil, err
		}
		counts[kind] = len(records)
	}
	return counts, nil
}

type entityMeta struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Slug      string `json:"slug"`
	Position  *int   `json:"position"`
	Published bool   `json:"published"`
	UpdatedAt string `json:"updated_at"`
	HTMLPath  string `json:"html_path"`
	FrontPage bool   `json:"front_page"`
}

func (m *entityMeta) displayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return m.Name
}

func (b *Bundle) loadPages() ([]*types.Record, error) {
	pagesDir := filepath.Join(b.root, "pages")
	entries, err := os.ReadDir(pagesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", pagesDir, err)
	}

	var out []*types.Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(pagesDir, entry.Name())
		metaPath := filepath.Join(dir, "page_metadata.json")
		var meta entityMeta
		if err := readJSON(metaPath, &meta); err != nil {
			warnf("skipping page dir %s: %v", entry.Name(), err)
			continue
		}
		slug := meta.URL
		if slug == "" {
			slug = meta.Slug
		}
		bodyPath := filepath.Join(dir, "index.html")
		out = append(out, &types.Record{
			Kind:      types.KindPage,
			SourceID:  meta.ID,
			Slug:      slug,
			Title:     meta.displayTitle(),
			Position:  meta.Position,
			Published: meta.Published,
			UpdatedAt: meta.UpdatedAt,
			Body:      readTextIfExists(bodyPath),
			BodyPath:  bodyPath,
			MetaPath:  metaPath,
			Page:      &types.PageMeta{FrontPage: meta.FrontPage},
		})
	}
	return out, nil
}

// loadBodied walks dir for sidecars named metaName and builds records of
// kind, reading the description body next to each sidecar.
func (b *Bundle) loadBodied(dir, metaName string, kind types.Kind, decorate func(*types.Record, string)) ([]*types.Record, error) {
	base := filepath.Join(b.root, dir)
	var out []*types.Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != metaName {
			return nil
		}
		var meta entityMeta
		if err := readJSON(path, &meta); err != nil {
			warnf("skipping %s: %v", path, err)
			return nil
		}
		htmlRel := meta.HTMLPath
		if htmlRel == "" {
			htmlRel = "description.html"
		}
		bodyPath := filepath.Join(filepath.Dir(path), htmlRel)
		r := &types.Record{
			Kind:      kind,
			SourceID:  meta.ID,
			Title:     meta.displayTitle(),
			Position:  meta.Position,
			Published: meta.Published,
			UpdatedAt: meta.UpdatedAt,
			Body:      readTextIfExists(bodyPath),
			BodyPath:  bodyPath,
			MetaPath:  path,
		}
		if decorate != nil {
			decorate(r, path)
		}
		out = append(out, r)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", base, err)
	}
	return out, nil
}

func (b *Bundle) loadAssignments() ([]*types.Record, error) {
	return b.loadBodied("assignments", "assignment_metadata.json", types.KindAssignment,
		func(r *types.Record, metaPath string) {
			var meta types.AssignmentMeta
			if err := readJSON(metaPath, &meta); err == nil {
				r.Assignment = &meta
			}
		})
}

func (b *Bundle) loadQuizzes() ([]*types.Record, error) {
	return b.loadBodied("quizzes", "quiz_metadata.json", types.KindQuiz,
		func(r *types.Record, metaPath string) {
			var meta types.QuizMeta
			if err := readJSON(metaPath, &meta); err == nil {
				r.Quiz = &meta
			}
		})
}

func (b *Bundle) loadDiscussions() ([]*types.Record, error) {
	discussions, err := b.loadBodied("discussions", "discussion_metadata.json", types.KindDiscussion,
		func(r *types.Record, metaPath string) {
			var meta types.DiscussionMeta
			if err := readJSON(metaPath, &meta); err == nil {
				r.Discussion = &meta
			}
		})
	if err != nil {
		return nil, err
	}

	// Announcements are discussions flagged is_announcement; they share the
	// discussions namespace in the identifier map.
	announcements, err := b.loadBodied("announcements", "announcement_metadata.json", types.KindDiscussion,
		func(r *types.Record, metaPath string) {
			var meta types.DiscussionMeta
			if err := readJSON(metaPath, &meta); err != nil {
				meta = types.DiscussionMeta{}
			}
			meta.IsAnnouncement = true
			r.Discussion = &meta
		})
	if err != nil {
		return nil, err
	}
	return append(discussions, announcements...), nil
}

const fileMetaSuffix = ".metadata.json"

func (b *Bundle) loadFiles() ([]*types.Record, error) {
	base := filepath.Join(b.root, "files")
	var out []*types.Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileMetaSuffix) {
			return nil
		}
		var meta struct {
			ID          int64  `json:"id"`
			FileName    string `json:"file_name"`
			Filename    string `json:"filename"`
			DisplayName string `json:"display_name"`
			ContentType string `json:"content_type"`
			FolderPath  string `json:"folder_path"`
			Position    *int   `json:"position"`
			UpdatedAt   string `json:"updated_at"`
			MD5         string `json:"md5"`
			SHA256      string `json:"sha256"`
		}
		if err := readJSON(path, &meta); err != nil {
			warnf("skipping %s: %v", path, err)
			return nil
		}
		name := meta.FileName
		if name == "" {
			name = meta.Filename
		}
		if meta.ID == 0 || name == "" {
			warnf("skipping %s: missing id or file_name", path)
			return nil
		}

		payload := filepath.Join(filepath.Dir(path), name)
		if _, err := os.Stat(payload); err != nil {
			warnf("exported payload missing for %s (expected %s)", path, payload)
			return nil
		}

		folder := meta.FolderPath
		if folder == "" {
			rel, err := filepath.Rel(base, filepath.Dir(payload))
			if err != nil || rel == "." {
				folder = "/"
			} else {
				folder = filepath.ToSlash(rel)
			}
		}

		digest := meta.SHA256
		if digest == "" {
			digest, err = types.HashFile(payload)
			if err != nil {
				return fmt.Errorf("failed to digest %s: %w", payload, err)
			}
		}

		title := meta.DisplayName
		if title == "" {
			title = name
		}
		out = append(out, &types.Record{
			Kind:      types.KindFile,
			SourceID:  meta.ID,
			Title:     title,
			Position:  meta.Position,
			Published: true,
			UpdatedAt: meta.UpdatedAt,
			MetaPath:  path,
			File: &types.FileMeta{
				Filename:    name,
				ContentType: meta.ContentType,
				FolderPath:  folder,
				FilePath:    payload,
				MD5:         meta.MD5,
				SHA256:      digest,
			},
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", base, err)
	}
	return out, nil
}

// loadAssignmentGroups walks assignment_groups for per-group metadata
// sidecars. Groups carry no body; weights and grading rules pass through.
func (b *Bundle) loadAssignmentGroups() ([]*types.Record, error) {
	base := filepath.Join(b.root, "assignment_groups")
	var out []*types.Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "assignment_group_metadata.json" {
			return nil
		}
		var meta struct {
			entityMeta
			GroupWeight     *float64       `json:"group_weight"`
			Rules           any            `json:"rules"`
			IntegrationData map[string]any `json:"integration_data"`
			AssignmentIDs   []int64        `json:"assignment_ids"`
		}
		if err := readJSON(path, &meta); err != nil {
			warnf("skipping %s: %v", path, err)
			return nil
		}
		title := meta.displayTitle()
		if title == "" {
			title = filepath.Base(filepath.Dir(path))
		}
		out = append(out, &types.Record{
			Kind:      types.KindAssignmentGroup,
			SourceID:  meta.ID,
			Title:     title,
			Position:  meta.Position,
			Published: true,
			UpdatedAt: meta.UpdatedAt,
			MetaPath:  path,
			Group: &types.AssignmentGroupMeta{
				GroupWeight:     meta.GroupWeight,
				Rules:           meta.Rules,
				IntegrationData: meta.IntegrationData,
				AssignmentIDs:   meta.AssignmentIDs,
			},
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", base, err)
	}
	return out, nil
}

func (b *Bundle) loadModules() ([]*types.Record, error) {
	path := filepath.Join(b.root, "modules", "modules.json")
	var raw []struct {
		entityMeta
		Items []types.ModuleItem `json:"items"`
	}
	if err := readJSON(path, &raw); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*types.Record
	for _, m := range raw {
		title := m.displayTitle()
		if title == "" {
			title = "Untitled Module"
		}
		out = append(out, &types.Record{
			Kind:      types.KindModule,
			SourceID:  m.ID,
			Title:     title,
			Position:  m.Position,
			Published: m.Published,
			Module:    &types.ModuleMeta{Items: m.Items},
		})
	}
	return out, nil
}

func rubricIDFromFilename(name string) int64 {
	stem := strings.TrimSuffix(name, ".json")
	if rest, ok := strings.CutPrefix(stem, "rubric_"); ok {
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (b *Bundle) loadRubrics() ([]*types.Record, error) {
	dir := filepath.Join(b.root, "course", "rubrics")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		dir = filepath.Join(b.root, "rubrics")
	}
	matches, err := filepath.Glob(filepath.Join(dir, "rubric_*.json"))
	if err != nil {
		return nil, err
	}

	links := b.loadRubricLinks()
	var out []*types.Record
	for _, path := range matches {
		var raw struct {
			ID             int64            `json:"id"`
			Title          string           `json:"title"`
			PointsPossible *float64         `json:"points_possible"`
			Rubric         []map[string]any `json:"rubric"`
			Criteria       []map[string]any `json:"criteria"`
			FreeForm       bool             `json:"free_form_criterion_comments"`
		}
		if err := readJSON(path, &raw); err != nil {
			warnf("skipping %s: %v", path, err)
			continue
		}
		id := rubricIDFromFilename(filepath.Base(path))
		if id == 0 {
			id = raw.ID
		}
		if raw.Title == "" {
			warnf("skipping %s: no title", path)
			continue
		}
		criteria := raw.Rubric
		if criteria == nil {
			criteria = raw.Criteria
		}
		out = append(out, &types.Record{
			Kind:     types.KindRubric,
			SourceID: id,
			Title:    raw.Title,
			Rubric: &types.RubricMeta{
				PointsPossible: raw.PointsPossible,
				Criteria:       criteria,
				FreeForm:       raw.FreeForm,
				AssignmentIDs:  links[id],
			},
		})
	}
	return out, nil
}

// loadRubricLinks reads the optional rubric → assignment association file.
func (b *Bundle) loadRubricLinks() map[int64][]int64 {
	path := filepath.Join(b.root, "course", "rubric_links.json")
	var raw []struct {
		RubricID     int64 `json:"rubric_id"`
		AssignmentID int64 `json:"assignment_id"`
	}
	if err := readJSON(path, &raw); err != nil {
		return nil
	}
	links := make(map[int64][]int64)
	for _, l := range raw {
		if l.RubricID != 0 && l.AssignmentID != 0 {
			links[l.RubricID] = append(links[l.RubricID], l.AssignmentID)
		}
	}
	return links
}

// WriteModuleItemIDs persists each leaf's backfilled module_item_ids back
// into its metadata sidecar, preserving all other fields. Records without a
// metadata path (synthetic or test records) are ignored.
func (b *Bundle) WriteModuleItemIDs(leaves []*types.Record) error {
	for _, leaf := range leaves {
		if leaf.MetaPath == "" || leaf.ModuleItemIDs == nil {
			continue
		}
		var raw map[string]any
		if err := readJSON(leaf.MetaPath, &raw); err != nil {
			return fmt.Errorf("failed to update %s: %w", leaf.MetaPath, err)
		}
		raw["module_item_ids"] = leaf.ModuleItemIDs

		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(leaf.MetaPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to update %s: %w", leaf.MetaPath, err)
		}
	}
	return nil
}

// HTMLFiles lists every .html file in the bundle, sorted, for the final link
// rewrite pass over exported bodies.
func (b *Bundle) HTMLFiles() ([]string, error) {
	var out []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".html") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", b.root, err)
	}
	return out, nil
}
