package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/courseware-hq/cmigrate/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	root := filepath.Join(t.TempDir(), "123")

	writeFile(t, filepath.Join(root, "course", "course_metadata.json"),
		`{"id": 123, "name": "Intro to Go", "course_code": "GO-101", "settings": {"hide_final_grades": true}}`)
	writeFile(t, filepath.Join(root, "course", "settings.json"),
		`{"allow_student_forum_attachments": false, "hide_final_grades": false}`)

	writeFile(t, filepath.Join(root, "pages", "welcome", "page_metadata.json"),
		`{"id": 5, "title": "Welcome", "url": "welcome", "published": true, "front_page": true}`)
	writeFile(t, filepath.Join(root, "pages", "welcome", "index.html"),
		`<p>Hello</p>`)

	writeFile(t, filepath.Join(root, "assignment_groups", "001_homework", "assignment_group_metadata.json"),
		`{"id": 11, "name": "Homework", "position": 1, "group_weight": 40.0,
		  "rules": {"drop_lowest": 1}, "assignment_ids": [55]}`)

	writeFile(t, filepath.Join(root, "assignments", "hw1", "assignment_metadata.json"),
		`{"id": 55, "name": "Homework 1", "position": 1, "published": true, "points_possible": 10, "due_at": "2026-09-01T00:00:00Z", "assignment_group_id": 11}`)
	writeFile(t, filepath.Join(root, "assignments", "hw1", "description.html"),
		`<p>Do the thing</p>`)

	writeFile(t, filepath.Join(root, "files", "docs", "syllabus.pdf"), "pdf bytes")
	writeFile(t, filepath.Join(root, "files", "docs", "syllabus.pdf.metadata.json"),
		`{"id": 3001, "file_name": "syllabus.pdf", "content_type": "application/pdf"}`)

	writeFile(t, filepath.Join(root, "modules", "modules.json"),
		`[{"id": 7, "name": "Week 1", "position": 1, "published": true,
		   "items": [{"id": 701, "type": "File", "content_id": 3001, "position": 1, "title": "Syllabus"}]}]`)

	writeFile(t, filepath.Join(root, "course", "rubrics", "rubric_65.json"),
		`{"title": "Essay Rubric", "points_possible": 20, "rubric": [{"description": "Clarity", "points": 20}]}`)
	writeFile(t, filepath.Join(root, "course", "rubric_links.json"),
		`[{"rubric_id": 65, "assignment_id": 55}]`)

	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func TestOpenResolvesSourceCourseID(t *testing.T) {
	b := testBundle(t)
	if b.SourceCourseID() != 123 {
		t.Fatalf("source course id = %d, want 123", b.SourceCourseID())
	}
}

func TestOpenFallsBackToDirName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "4567")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.SourceCourseID() != 4567 {
		t.Fatalf("source course id = %d, want 4567", b.SourceCourseID())
	}
}

func TestCourseMergesSettings(t *testing.T) {
	b := testBundle(t)
	course, err := b.Course()
	if err != nil {
		t.Fatalf("Course: %v", err)
	}
	if course.Name != "Intro to Go" || course.CourseCode != "GO-101" {
		t.Fatalf("unexpected identity: %+v", course)
	}
	// settings.json wins over the metadata settings block
	if v, ok := course.Settings["hide_final_grades"].(bool); !ok || v {
		t.Fatalf("hide_final_grades = %v, want false", course.Settings["hide_final_grades"])
	}
	if _, ok := course.Settings["allow_student_forum_attachments"]; !ok {
		t.Fatal("file-only setting missing after merge")
	}
}

func TestListPages(t *testing.T) {
	b := testBundle(t)
	pages, err := b.List(types.KindPage)
	if err != nil {
		t.Fatalf("List pages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	p := pages[0]
	if p.SourceID != 5 || p.Slug != "welcome" || p.Body != "<p>Hello</p>" {
		t.Fatalf("unexpected page record: %+v", p)
	}
	if p.Page == nil || !p.Page.FrontPage {
		t.Fatal("front_page flag lost")
	}
}

func TestListAssignments(t *testing.T) {
	b := testBundle(t)
	assignments, err := b.List(types.KindAssignment)
	if err != nil {
		t.Fatalf("List assignments: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(assignments))
	}
	a := assignments[0]
	if a.Title != "Homework 1" || a.Body != "<p>Do the thing</p>" {
		t.Fatalf("unexpected assignment record: %+v", a)
	}
	if a.Assignment == nil || a.Assignment.PointsPossible == nil || *a.Assignment.PointsPossible != 10 {
		t.Fatalf("assignment meta not decoded: %+v", a.Assignment)
	}
	if a.Assignment.GroupID != 11 {
		t.Fatalf("assignment group id = %d, want 11", a.Assignment.GroupID)
	}
}

func TestListAssignmentGroups(t *testing.T) {
	b := testBundle(t)
	groups, err := b.List(types.KindAssignmentGroup)
	if err != nil {
		t.Fatalf("List assignment groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d assignment groups, want 1", len(groups))
	}
	g := groups[0]
	if g.SourceID != 11 || g.Title != "Homework" {
		t.Fatalf("unexpected group record: %+v", g)
	}
	if g.Group == nil || g.Group.GroupWeight == nil || *g.Group.GroupWeight != 40 {
		t.Fatalf("group meta not decoded: %+v", g.Group)
	}
	if len(g.Group.AssignmentIDs) != 1 || g.Group.AssignmentIDs[0] != 55 {
		t.Fatalf("group assignment ids = %v", g.Group.AssignmentIDs)
	}
}

func TestListFilesComputesDigest(t *testing.T) {
	b := testBundle(t)
	files, err := b.List(types.KindFile)
	if err != nil {
		t.Fatalf("List files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	f := files[0]
	if f.File == nil {
		t.Fatal("file meta missing")
	}
	want, err := types.HashFile(f.File.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if f.File.SHA256 != want {
		t.Fatalf("digest = %s, want %s", f.File.SHA256, want)
	}
	if f.File.FolderPath != "docs" {
		t.Fatalf("folder path = %q, want docs", f.File.FolderPath)
	}
}

func TestListModules(t *testing.T) {
	b := testBundle(t)
	modules, err := b.List(types.KindModule)
	if err != nil {
		t.Fatalf("List modules: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("got %d modules, want 1", len(modules))
	}
	m := modules[0]
	if m.Module == nil || len(m.Module.Items) != 1 {
		t.Fatalf("module items not decoded: %+v", m.Module)
	}
	item := m.Module.Items[0]
	if item.ItemID != 701 || item.Type != types.ItemFile || item.ContentID != 3001 {
		t.Fatalf("unexpected module item: %+v", item)
	}
}

func TestListRubricsWithLinks(t *testing.T) {
	b := testBundle(t)
	rubrics, err := b.List(types.KindRubric)
	if err != nil {
		t.Fatalf("List rubrics: %v", err)
	}
	if len(rubrics) != 1 {
		t.Fatalf("got %d rubrics, want 1", len(rubrics))
	}
	r := rubrics[0]
	if r.SourceID != 65 {
		t.Fatalf("rubric id = %d, want 65 (from filename)", r.SourceID)
	}
	if r.Rubric == nil || len(r.Rubric.AssignmentIDs) != 1 || r.Rubric.AssignmentIDs[0] != 55 {
		t.Fatalf("rubric links not joined: %+v", r.Rubric)
	}
}

func TestScanCounts(t *testing.T) {
	b := testBundle(t)
	counts, err := b.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := map[types.Kind]int{
		types.KindPage:            1,
		types.KindAssignment:      1,
		types.KindAssignmentGroup: 1,
		types.KindQuiz:            0,
		types.KindDiscussion:      0,
		types.KindFile:            1,
		types.KindModule:          1,
		types.KindRubric:          1,
	}
	for kind, n := range want {
		if counts[kind] != n {
			t.Fatalf("%s count = %d, want %d", kind, counts[kind], n)
		}
	}
}

func TestMissingDirsAreEmpty(t *testing.T) {
	root := filepath.Join(t.TempDir(), "99")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, kind := range append(types.LeafKinds(),
		types.KindAssignmentGroup, types.KindModule, types.KindRubric) {
		records, err := b.List(kind)
		if err != nil {
			t.Fatalf("List %s: %v", kind, err)
		}
		if len(records) != 0 {
			t.Fatalf("List %s on empty bundle returned %d records", kind, len(records))
		}
	}
}

func TestWriteModuleItemIDs(t *testing.T) {
	b := testBundle(t)
	files, err := b.List(types.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	files[0].ModuleItemIDs = []int64{701}

	if err := b.WriteModuleItemIDs(files); err != nil {
		t.Fatalf("WriteModuleItemIDs: %v", err)
	}

	data, err := os.ReadFile(files[0].MetaPath)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sidecar no longer valid JSON: %v", err)
	}
	ids, ok := raw["module_item_ids"].([]any)
	if !ok || len(ids) != 1 {
		t.Fatalf("module_item_ids = %v", raw["module_item_ids"])
	}
	// Untouched fields survive the rewrite.
	if raw["content_type"] != "application/pdf" {
		t.Fatalf("content_type lost: %v", raw["content_type"])
	}
}
