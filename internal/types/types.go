// Package types defines core data structures for the cmigrate course
// migration engine.
package types

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// Kind identifies one migratable entity kind.
type Kind string

const (
	KindPage            Kind = "page"
	KindAssignment      Kind = "assignment"
	KindQuiz            Kind = "quiz"
	KindDiscussion      Kind = "discussion"
	KindFile            Kind = "file"
	KindModule          Kind = "module"
	KindRubric          Kind = "rubric"
	KindAssignmentGroup Kind = "assignment_group"
)

// LeafKinds lists the kinds that containers reference but that contain no
// migratable entities themselves.
func LeafKinds() []Kind {
	return []Kind{KindFile, KindPage, KindAssignment, KindQuiz, KindDiscussion}
}

// Record is one exported entity instance queued for migration.
//
// Position is a pointer because exports from unordered courses legitimately
// omit it; absent positions sort after every present one. Exactly one of the
// per-kind metadata pointers is non-nil, matching Kind.
type Record struct {
	Kind      Kind   `json:"kind"`
	SourceID  int64  `json:"id"`
	Slug      string `json:"url,omitempty"` // pages only: the source slug
	Title     string `json:"title"`
	Position  *int   `json:"position,omitempty"`
	Published bool   `json:"published"`
	UpdatedAt string `json:"updated_at,omitempty"`

	// Body is the entity's HTML content (page body, assignment description,
	// quiz description, discussion message). Empty when the entity has none.
	Body     string `json:"-"`
	BodyPath string `json:"html_path,omitempty"`

	// MetaPath is the metadata file this record was read from, used to write
	// backfilled fields back into the export tree.
	MetaPath string `json:"-"`

	// ModuleItemIDs is backfilled from the module membership listing before
	// any leaf is migrated. Empty (never nil after backfill) when no module
	// references this record.
	ModuleItemIDs []int64 `json:"module_item_ids,omitempty"`

	Page       *PageMeta            `json:"page,omitempty"`
	File       *FileMeta            `json:"file,omitempty"`
	Assignment *AssignmentMeta      `json:"assignment,omitempty"`
	Quiz       *QuizMeta            `json:"quiz,omitempty"`
	Discussion *DiscussionMeta      `json:"discussion,omitempty"`
	Module     *ModuleMeta          `json:"module,omitempty"`
	Rubric     *RubricMeta          `json:"rubric,omitempty"`
	Group      *AssignmentGroupMeta `json:"assignment_group,omitempty"`
}

// SourceKey returns the identifier used for map lookups and failure reports:
// the slug for pages, the numeric source id for everything else.
func (r *Record) SourceKey() string {
	if r.Kind == KindPage && r.Slug != "" {
		return r.Slug
	}
	return fmt.Sprintf("%d", r.SourceID)
}

// PageMeta carries page-specific export metadata.
type PageMeta struct {
	FrontPage bool `json:"front_page,omitempty"`
}

// FileMeta carries file-specific export metadata.
type FileMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	FolderPath  string `json:"folder_path"` // target folder path, auto-created on upload
	FilePath    string `json:"file_path"`   // exported payload path, relative to the bundle
	MD5         string `json:"md5,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// AssignmentMeta carries assignment-specific export metadata.
type AssignmentMeta struct {
	DueAt          string   `json:"due_at,omitempty"`
	PointsPossible *float64 `json:"points_possible,omitempty"`
	RubricID       int64    `json:"rubric_id,omitempty"`           // source rubric attached to this assignment
	GroupID        int64    `json:"assignment_group_id,omitempty"` // source assignment group, remapped before creation
}

// AssignmentGroupMeta carries assignment-group export metadata. Rules and
// integration data pass through to the target uninterpreted.
type AssignmentGroupMeta struct {
	GroupWeight     *float64       `json:"group_weight,omitempty"`
	Rules           any            `json:"rules,omitempty"`
	IntegrationData map[string]any `json:"integration_data,omitempty"`
	AssignmentIDs   []int64        `json:"assignment_ids,omitempty"` // source assignments listed in the group
}

// QuizMeta carries quiz-specific export metadata. Values pass through to the
// target unchanged; the engine does not validate grading semantics.
type QuizMeta struct {
	QuizType           string   `json:"quiz_type,omitempty"` // assignment, practice_quiz, graded_survey, survey
	PointsPossible     *float64 `json:"points_possible,omitempty"`
	TimeLimit          *int     `json:"time_limit,omitempty"`
	AllowedAttempts    *int     `json:"allowed_attempts,omitempty"`
	ShuffleAnswers     *bool    `json:"shuffle_answers,omitempty"`
	ScoringPolicy      string   `json:"scoring_policy,omitempty"` // keep_highest, keep_latest
	OneQuestionAtATime *bool    `json:"one_question_at_a_time,omitempty"`
	DueAt              string   `json:"due_at,omitempty"`
	UnlockAt           string   `json:"unlock_at,omitempty"`
	LockAt             string   `json:"lock_at,omitempty"`
}

// DiscussionMeta carries discussion-specific export metadata.
type DiscussionMeta struct {
	IsAnnouncement bool   `json:"is_announcement,omitempty"`
	DiscussionType string `json:"discussion_type,omitempty"`
}

// ModuleMeta carries the ordered item listing for a module.
type ModuleMeta struct {
	Items []ModuleItem `json:"items"`
}

// RubricMeta carries rubric criteria (passed through to the target verbatim,
// the engine does not interpret criterion structure) and the source
// assignment ids the rubric was associated with.
type RubricMeta struct {
	PointsPossible *float64         `json:"points_possible,omitempty"`
	Criteria       []map[string]any `json:"criteria,omitempty"`
	FreeForm       bool             `json:"free_form_criterion_comments,omitempty"`
	AssignmentIDs  []int64          `json:"assignment_ids,omitempty"`
}

// CourseRecord carries course identity and settings for the final
// reconciliation stage.
type CourseRecord struct {
	SourceID   int64          `json:"id"`
	Name       string         `json:"name"`
	CourseCode string         `json:"course_code,omitempty"`
	Blueprint  bool           `json:"blueprint,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// HashFile computes the hex sha256 digest of a file's bytes, streamed.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the export bundle
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
