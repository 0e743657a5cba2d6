// Package rewrite replaces intra-course references embedded in content
// bodies with their target-course equivalents, once the identifier map has
// been populated by the entity stages.
//
// Recognized shapes, with or without a scheme+host prefix and with or
// without an /api/v1 prefix:
//
//	/courses/{id}/files/{id}
//	/courses/{id}/assignments/{id}
//	/courses/{id}/quizzes/{id}
//	/courses/{id}/discussion_topics/{id}
//	/courses/{id}/modules/{id}
//	/courses/{id}/pages/{slug}
//	/files/{id}
//
// Query strings, fragments, and trailing path segments such as /download or
// /preview are preserved. The host is stripped from rewritten references so
// the result is portable across instance hostnames; references that are not
// rewritten keep their original text exactly.
package rewrite

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/courseware-hq/cmigrate/internal/idmap"
)

// Report summarizes one body's rewrite. Unresolved references were left
// untouched because the map has no entry for them; malformed references were
// left untouched because their identifier segment is not parseable. Neither
// is an error: callers log them and decide whether to flag the body.
type Report struct {
	Rewritten  int
	Unresolved []string
	Malformed  []string
}

// Changed reports whether the rewrite produced a different body.
func (r Report) Changed() bool { return r.Rewritten > 0 }

// Rewriter rewrites bodies for one source→target course migration. Safe for
// concurrent use; it only reads the map.
type Rewriter struct {
	SourceCourseID int64
	TargetCourseID int64
	Map            *idmap.Map

	once        sync.Once
	targetFiles map[int64]bool
}

// isTargetFile reports whether id is already a target-side file id. Bare
// /files/{id} references carry no course id, so this is the only guard that
// keeps a second pass from re-rewriting them.
func (rw *Rewriter) isTargetFile(id int64) bool {
	rw.once.Do(func() {
		rw.targetFiles = make(map[int64]bool)
		for _, v := range rw.Map.Snapshot()[idmap.Files] {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				rw.targetFiles[n] = true
			}
		}
	})
	return rw.targetFiles[id]
}

// Submatch groups: 1 api prefix, 2 course id, 3 kind, 4 id-or-slug tail,
// 5 bare file id. The course-qualified branch starts earlier in the input
// than any bare /files/ inside it, so leftmost matching keeps the two
// branches from overlapping.
var refPattern = regexp.MustCompile(
	`(?:https?://[^/\s"'<>]+)?(/api/v1)?/(?:courses/(\d+)/(files|assignments|quizzes|discussion_topics|modules|pages)/([^\s"'<>?#/\\]+)|files/(\d+))`)

var kindNamespace = map[string]idmap.Namespace{
	"files":             idmap.Files,
	"assignments":       idmap.Assignments,
	"quizzes":           idmap.Quizzes,
	"discussion_topics": idmap.Discussions,
	"modules":           idmap.Modules,
}

// Rewrite returns body with every resolvable source-course reference
// replaced, plus a report. References whose course id is not the source
// course are ignored entirely: after one pass the body carries only
// target-course ids, so a second pass is a no-op instead of a double
// substitution. The syllabus assignment slug has no per-entity identifier
// and is rewritten by course id alone.
func (rw *Rewriter) Rewrite(body string) (string, Report) {
	var rep Report
	matches := refPattern.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, rep
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, m := range matches {
		ref := body[m[0]:m[1]]
		repl, ok := rw.rewriteRef(body, m, ref, &rep)
		b.WriteString(body[last:m[0]])
		if ok {
			b.WriteString(repl)
			rep.Rewritten++
		} else {
			b.WriteString(ref)
		}
		last = m[1]
	}
	b.WriteString(body[last:])
	return b.String(), rep
}

func group(body string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return body[m[2*n] : m[2*n+1]]
}

func (rw *Rewriter) rewriteRef(body string, m []int, ref string, rep *Report) (string, bool) {
	api := group(body, m, 1)

	if bare := group(body, m, 5); bare != "" {
		id, _ := strconv.ParseInt(bare, 10, 64)
		if rw.isTargetFile(id) {
			return "", false
		}
		newID, ok := rw.Map.GetInt(idmap.Files, id)
		if !ok {
			rep.Unresolved = append(rep.Unresolved, ref)
			return "", false
		}
		return api + "/files/" + strconv.FormatInt(newID, 10), true
	}

	courseID, err := strconv.ParseInt(group(body, m, 2), 10, 64)
	if err != nil || courseID != rw.SourceCourseID {
		return "", false
	}
	kind := group(body, m, 3)
	tail := group(body, m, 4)
	target := strconv.FormatInt(rw.TargetCourseID, 10)

	if kind == "pages" {
		if id, err := strconv.ParseInt(tail, 10, 64); err == nil {
			newID, ok := rw.Map.GetInt(idmap.Pages, id)
			if !ok {
				rep.Unresolved = append(rep.Unresolved, ref)
				return "", false
			}
			return api + "/courses/" + target + "/pages/" + strconv.FormatInt(newID, 10), true
		}
		slug, ok := rw.Map.Get(idmap.PagesURL, tail)
		if !ok {
			rep.Unresolved = append(rep.Unresolved, ref)
			return "", false
		}
		return api + "/courses/" + target + "/pages/" + slug, true
	}

	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		// The syllabus pseudo-assignment is addressed by slug in every
		// course, so only the course id needs rewriting.
		if kind == "assignments" && tail == "syllabus" {
			return api + "/courses/" + target + "/assignments/syllabus", true
		}
		rep.Malformed = append(rep.Malformed, ref)
		return "", false
	}
	newID, ok := rw.Map.GetInt(kindNamespace[kind], id)
	if !ok {
		rep.Unresolved = append(rep.Unresolved, ref)
		return "", false
	}
	return api + "/courses/" + target + "/" + kind + "/" + strconv.FormatInt(newID, 10), true
}
