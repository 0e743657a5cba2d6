package pipeline

import (
	"context"
	"strconv"

	"github.com/courseware-hq/cmigrate/internal/idmap"
)

// courseFieldAllow is the conservative set of identity fields applied to the
// target course. Anything else in the export's course metadata is ignored.
var courseFieldAllow = map[string]bool{
	"name":        true,
	"course_code": true,
	"blueprint":   true,
}

// settingsStage applies course identity and the merged settings block. It
// runs last because settings may reference identifiers resolved by earlier
// stages, e.g. a grading standard or a hero image file id.
func (r *run) settingsStage(ctx context.Context) error {
	course, err := r.p.Source.Course()
	if err != nil || course == nil {
		r.res.Counters[StageSettings] = Counters{}
		warnf("no course metadata in export, settings stage has nothing to apply")
		return nil
	}

	c := Counters{Total: 1}
	fields := map[string]any{}
	if course.Name != "" {
		fields["name"] = course.Name
	}
	if course.CourseCode != "" {
		fields["course_code"] = course.CourseCode
	}
	if course.Blueprint {
		fields["blueprint"] = true
	}
	for k := range fields {
		if !courseFieldAllow[k] {
			delete(fields, k)
		}
	}

	failed := false
	if len(fields) > 0 {
		if err := r.p.Client.UpdateCourse(ctx, fields); err != nil {
			failed = true
			r.res.Failures = append(r.res.Failures, ItemFailure{
				Stage:     StageSettings,
				SourceKey: strconv.FormatInt(course.SourceID, 10),
				Reason:    err.Error(),
			})
			warnf("course update failed: %v", err)
		}
	}

	settings := r.remapSettings(course.Settings)
	if len(settings) > 0 {
		if err := r.p.Client.UpdateCourseSettings(ctx, settings); err != nil {
			failed = true
			r.res.Failures = append(r.res.Failures, ItemFailure{
				Stage:     StageSettings,
				SourceKey: strconv.FormatInt(course.SourceID, 10),
				Reason:    err.Error(),
			})
			warnf("course settings update failed: %v", err)
		}
	}

	if failed {
		c.Failed = 1
	} else {
		c.Created = 1
	}
	r.res.Counters[StageSettings] = c
	return nil
}

// remapSettings passes settings through, translating the identifier-bearing
// ones. A reference whose mapping is absent is dropped with a warning rather
// than sent pointing at a source-instance object.
func (r *run) remapSettings(settings map[string]any) map[string]any {
	if len(settings) == 0 {
		return nil
	}
	idNamespaces := map[string]idmap.Namespace{
		"grading_standard_id": idmap.GradingStandards,
		"image_id":            idmap.Files,
	}

	out := make(map[string]any, len(settings))
	for k, v := range settings {
		ns, isRef := idNamespaces[k]
		if !isRef {
			out[k] = v
			continue
		}
		src, ok := asInt64(v)
		if !ok {
			warnf("setting %s has non-numeric value %v, dropped", k, v)
			continue
		}
		mapped, err := r.p.Map.RequireInt(ns, src)
		if err != nil {
			warnf("setting %s references unresolved %s %d, dropped", k, ns, src)
			continue
		}
		out[k] = mapped
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
