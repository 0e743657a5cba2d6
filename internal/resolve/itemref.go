package resolve

import (
	"fmt"

	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/types"
)

// SkipError marks an item that cannot be materialized on the target and
// should be counted skipped, not failed: a missing mapping, or a malformed
// membership record. Never fatal.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return e.Reason }

func skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// ResolveItemRef resolves one module membership record against the
// identifier map, producing the target-side reference the item will carry.
//
// Missing or unresolved dependencies return a SkipError: the item whose
// mapping is absent when the modules stage runs is skipped without retry
// (the modules stage runs after every leaf stage, so an absent mapping means
// the leaf itself was skipped or failed).
func ResolveItemRef(item types.ModuleItem, m *idmap.Map) (types.ItemRef, error) {
	switch types.NormalizeItemType(string(item.Type)) {
	case types.ItemPage:
		if item.PageSlug == "" {
			return nil, skipf("missing page_url")
		}
		slug, err := m.Require(idmap.PagesURL, item.PageSlug)
		if err != nil {
			return nil, skipf("no pages_url mapping for %q", item.PageSlug)
		}
		return types.PageRef{Slug: slug}, nil

	case types.ItemAssignment:
		if item.ContentID == 0 {
			return nil, skipf("missing content_id")
		}
		id, err := m.RequireInt(idmap.Assignments, item.ContentID)
		if err != nil {
			return nil, skipf("no assignment mapping for %d", item.ContentID)
		}
		return types.AssignmentRef{ID: id}, nil

	case types.ItemQuiz:
		if item.ContentID == 0 {
			return nil, skipf("missing content_id")
		}
		id, err := m.RequireInt(idmap.Quizzes, item.ContentID)
		if err != nil {
			return nil, skipf("no quiz mapping for %d", item.ContentID)
		}
		return types.QuizRef{ID: id}, nil

	case types.ItemDiscussion:
		if item.ContentID == 0 {
			return nil, skipf("missing content_id")
		}
		id, err := m.RequireInt(idmap.Discussions, item.ContentID)
		if err != nil {
			return nil, skipf("no discussion mapping for %d", item.ContentID)
		}
		return types.DiscussionRef{ID: id}, nil

	case types.ItemFile:
		if item.ContentID == 0 {
			return nil, skipf("missing content_id")
		}
		id, err := m.RequireInt(idmap.Files, item.ContentID)
		if err != nil {
			return nil, skipf("no file mapping for %d", item.ContentID)
		}
		return types.FileRef{ID: id}, nil

	case types.ItemExternalURL:
		if item.ExternalURL == "" {
			return nil, skipf("missing external_url")
		}
		return types.ExternalURLRef{URL: item.ExternalURL, NewTab: item.NewTab}, nil

	case types.ItemExternalTool:
		if item.ExternalURL == "" {
			return nil, skipf("missing external_url")
		}
		return types.ExternalToolRef{URL: item.ExternalURL, NewTab: item.NewTab}, nil

	case types.ItemSubHeader:
		if item.Title == "" {
			return nil, skipf("missing title")
		}
		return types.SubHeaderRef{}, nil

	default:
		return nil, skipf("unsupported item type %q", item.Type)
	}
}
