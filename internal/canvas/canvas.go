// Package canvas provides the client for the Canvas LMS REST API surface
// the migration engine creates entities through.
package canvas

import (
	"context"
	"errors"
	"fmt"

	"github.com/courseware-hq/cmigrate/internal/types"
)

// Client is the remote-creation surface the pipeline drives. Implementations
// report failures as *RemoteError so the pipeline can record them as failed
// items without inspecting transport details.
type Client interface {
	// CreatePage creates a wiki page and returns its new id and slug.
	CreatePage(ctx context.Context, r *types.Record) (int64, string, error)
	// SetFrontPage marks an already-created page as the course front page.
	SetFrontPage(ctx context.Context, slug string) error

	// CreateAssignmentGroup creates a grading group; assignments created
	// afterwards reference it by the returned id.
	CreateAssignmentGroup(ctx context.Context, r *types.Record) (int64, error)

	CreateAssignment(ctx context.Context, r *types.Record) (int64, error)
	CreateQuiz(ctx context.Context, r *types.Record) (int64, error)
	CreateDiscussion(ctx context.Context, r *types.Record) (int64, error)

	// UploadFile runs the three-step Canvas upload flow and returns the new
	// file id.
	UploadFile(ctx context.Context, r *types.Record) (int64, error)

	CreateModule(ctx context.Context, r *types.Record) (int64, error)
	// CreateModuleItem adds one item to a module; ref carries the already
	// resolved target-side reference.
	CreateModuleItem(ctx context.Context, moduleID int64, item types.ModuleItem, ref types.ItemRef) (int64, error)

	CreateRubric(ctx context.Context, r *types.Record) (int64, error)
	AssociateRubric(ctx context.Context, rubricID, assignmentID int64) error

	UpdateCourse(ctx context.Context, fields map[string]any) error
	UpdateCourseSettings(ctx context.Context, settings map[string]any) error

	// Body updates for the final link-rewrite pass.
	UpdatePageBody(ctx context.Context, slug, body string) error
	UpdateAssignmentDescription(ctx context.Context, id int64, body string) error
	UpdateQuizDescription(ctx context.Context, id int64, body string) error
	UpdateDiscussionMessage(ctx context.Context, id int64, body string) error
}

// RemoteError is a creation or update the remote instance rejected.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote rejected with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Body)
}

// IsRemote reports whether err is a remote rejection rather than a local or
// transport fault.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
