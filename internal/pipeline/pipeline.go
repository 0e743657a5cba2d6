// Package pipeline orchestrates a course migration run: fixed stage order,
// per-item outcome accounting, identifier map population, and the final link
// rewrite pass.
//
// Stage order reflects dependency direction. Leaf kinds go first, then the
// containers that reference them, then course settings which may reference
// identifiers resolved earlier. One final rewrite pass runs after every
// entity stage, never per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/courseware-hq/cmigrate/internal/canvas"
	"github.com/courseware-hq/cmigrate/internal/dedup"
	"github.com/courseware-hq/cmigrate/internal/idmap"
	"github.com/courseware-hq/cmigrate/internal/resolve"
	"github.com/courseware-hq/cmigrate/internal/types"
)

// Stage names one pipeline phase.
type Stage string

const (
	StageFiles            Stage = "files"
	StagePages            Stage = "pages"
	StageAssignmentGroups Stage = "assignment_groups"
	StageAssignments      Stage = "assignments"
	StageQuizzes          Stage = "quizzes"
	StageDiscussions      Stage = "discussions"
	StageRubrics          Stage = "rubrics"
	StageModules          Stage = "modules"
	StageSettings         Stage = "settings"
)

// DefaultStages returns the full stage list in execution order. Assignment
// groups precede assignments so group references resolve at creation time.
func DefaultStages() []Stage {
	return []Stage{
		StageFiles, StagePages, StageAssignmentGroups, StageAssignments,
		StageQuizzes, StageDiscussions, StageRubrics, StageModules,
		StageSettings,
	}
}

var stageKinds = map[Stage]types.Kind{
	StageFiles:            types.KindFile,
	StagePages:            types.KindPage,
	StageAssignmentGroups: types.KindAssignmentGroup,
	StageAssignments:      types.KindAssignment,
	StageQuizzes:          types.KindQuiz,
	StageDiscussions:      types.KindDiscussion,
	StageRubrics:          types.KindRubric,
	StageModules:          types.KindModule,
}

// State tracks the orchestrator's lifecycle.
type State int

const (
	StatePlanned State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Counters aggregates per-item outcomes for one stage.
type Counters struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// ItemFailure records one item the remote rejected or that could not be
// prepared, with enough context to locate it in the export.
type ItemFailure struct {
	Stage     Stage      `json:"stage"`
	Kind      types.Kind `json:"kind"`
	SourceKey string     `json:"source_key"`
	Reason    string     `json:"reason"`
}

// RemoteCreationError wraps a rejected creation for the failure report.
type RemoteCreationError struct {
	Kind      types.Kind
	SourceKey string
	Err       error
}

func (e *RemoteCreationError) Error() string {
	return fmt.Sprintf("failed to create %s %s: %v", e.Kind, e.SourceKey, e.Err)
}

func (e *RemoteCreationError) Unwrap() error { return e.Err }

// StageDependencyExhaustedError aborts the pipeline: a stage's prerequisite
// namespace is entirely unresolved although upstream records existed.
type StageDependencyExhaustedError struct {
	Stage     Stage
	Namespace idmap.Namespace
}

func (e *StageDependencyExhaustedError) Error() string {
	return fmt.Sprintf("stage %s: prerequisite namespace %s is empty although upstream records existed", e.Stage, e.Namespace)
}

// RewriteSummary reports the final link rewrite pass.
type RewriteSummary struct {
	Scanned    int      `json:"scanned"`
	Updated    int      `json:"updated"`
	Rewritten  int      `json:"rewritten"` // total reference substitutions
	Unresolved []string `json:"unresolved,omitempty"`
}

// Result is the outcome of a run: final map snapshot, per-stage counters,
// and the item-level failure report.
type Result struct {
	State       State
	Counters    map[Stage]Counters
	ModuleItems Counters // item outcomes within the modules stage
	Failures    []ItemFailure
	Warnings    []string
	Completed   []Stage
	NotRun      []Stage
	Snapshot    map[idmap.Namespace]map[string]string
	Rewrite     RewriteSummary
}

// Source lists migration records out of an export. Implementations return
// records in no particular order; the pipeline sorts.
type Source interface {
	List(kind types.Kind) ([]*types.Record, error)
	Course() (*types.CourseRecord, error)
	SourceCourseID() int64
}

// backfillPersister is implemented by sources that can write backfilled
// module item references back into the export tree.
type backfillPersister interface {
	WriteModuleItemIDs([]*types.Record) error
}

// Pipeline wires the source, the remote client, and the run-scoped state.
// The identifier map is passed in so a resumed run can start from a loaded
// snapshot.
type Pipeline struct {
	Source   Source
	Client   canvas.Client
	Map      *idmap.Map
	Manifest *dedup.Manifest

	TargetCourseID int64

	// RewriteConcurrency bounds the final rewrite pass fan-out; zero means
	// a small default.
	RewriteConcurrency int
}

// New assembles a pipeline with a fresh dedup manifest.
func New(source Source, client canvas.Client, m *idmap.Map, targetCourseID int64) *Pipeline {
	return &Pipeline{
		Source:         source,
		Client:         client,
		Map:            m,
		Manifest:       dedup.NewManifest(),
		TargetCourseID: targetCourseID,
	}
}

// Plan produces per-stage item counts without performing any remote call or
// binding any identifier. It runs the same ordering and membership resolution
// as a real run, so duplicate-position warnings surface during planning too.
func (p *Pipeline) Plan(stages []Stage) (*Result, error) {
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	res := &Result{
		State:    StatePlanned,
		Counters: make(map[Stage]Counters, len(stages)),
	}
	records := make(map[types.Kind][]*types.Record)
	duplicateGroups := 0
	for _, stage := range stages {
		if stage == StageSettings {
			n := 0
			if course, err := p.Source.Course(); err == nil && course != nil {
				n = 1
			}
			res.Counters[stage] = Counters{Total: n}
			continue
		}
		kind, ok := stageKinds[stage]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
		recs, err := p.Source.List(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", kind, err)
		}
		duplicateGroups += resolve.DuplicatePositionGroups(recs)
		resolve.SortRecords(recs)
		records[kind] = recs
		res.Counters[stage] = Counters{Total: len(recs)}
	}
	if duplicateGroups > 0 {
		msg := fmt.Sprintf("%d sibling groups share a position value; title/id tie-break decides their order", duplicateGroups)
		res.Warnings = append(res.Warnings, msg)
		warnf("%s", msg)
	}

	// Membership resolution previews the backfill on the in-memory listing
	// only; nothing is written back and no identifier is bound.
	memberships := resolve.Memberships(records[types.KindModule])
	var leaves []*types.Record
	for _, kind := range types.LeafKinds() {
		leaves = append(leaves, records[kind]...)
	}
	resolve.BackfillModuleItems(leaves, memberships)
	res.ModuleItems = Counters{Total: len(memberships)}
	return res, nil
}

// Run executes the stages in order and finishes with the link rewrite pass.
// An item-level failure is recorded and the stage continues; a fatal error
// aborts remaining stages and is returned alongside the partial result.
func (p *Pipeline) Run(ctx context.Context, stages []Stage) (*Result, error) {
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	res := &Result{
		State:    StateRunning,
		Counters: make(map[Stage]Counters, len(stages)),
	}

	r := &run{p: p, res: res}
	if err := r.prepare(); err != nil {
		res.State = StateAborted
		res.NotRun = append(res.NotRun, stages...)
		res.Snapshot = p.Map.Snapshot()
		return res, err
	}

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			res.State = StateAborted
			res.NotRun = append(res.NotRun, stages[i:]...)
			res.Snapshot = p.Map.Snapshot()
			return res, err
		}
		if err := r.runStage(ctx, stage); err != nil {
			res.State = StateAborted
			res.NotRun = append(res.NotRun, stages[i+1:]...)
			res.Snapshot = p.Map.Snapshot()
			return res, fmt.Errorf("stage %s: %w", stage, err)
		}
		res.Completed = append(res.Completed, stage)
	}

	if err := r.rewritePass(ctx); err != nil {
		res.State = StateAborted
		res.Snapshot = p.Map.Snapshot()
		return res, err
	}

	res.State = StateCompleted
	res.Snapshot = p.Map.Snapshot()
	return res, nil
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// fatal reports whether err must abort the pipeline rather than mark one
// item failed or skipped.
func fatal(err error) bool {
	var conflict *idmap.ConflictError
	var exhausted *StageDependencyExhaustedError
	return errors.As(err, &conflict) || errors.As(err, &exhausted)
}

// run carries the per-run working set.
type run struct {
	p   *Pipeline
	res *Result

	records     map[types.Kind][]*types.Record
	memberships []resolve.Membership

	// created entities that carry bodies, for the final rewrite pass
	createdPages       []createdEntity // ID is unused; Key is the new slug
	createdAssignments []createdEntity
	createdQuizzes     []createdEntity
	createdDiscussions []createdEntity
}

type createdEntity struct {
	ID   int64
	Key  string
	Body string
}

// prepare lists every kind, orders siblings, emits the single aggregate
// duplicate-position warning, and backfills module item references into the
// leaves before any stage runs.
func (r *run) prepare() error {
	r.records = make(map[types.Kind][]*types.Record)
	duplicateGroups := 0
	for _, kind := range append(types.LeafKinds(),
		types.KindAssignmentGroup, types.KindModule, types.KindRubric) {
		records, err := r.p.Source.List(kind)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", kind, err)
		}
		duplicateGroups += resolve.DuplicatePositionGroups(records)
		resolve.SortRecords(records)
		r.records[kind] = records
	}
	if duplicateGroups > 0 {
		msg := fmt.Sprintf("%d sibling groups share a position value; title/id tie-break decides their order", duplicateGroups)
		r.res.Warnings = append(r.res.Warnings, msg)
		warnf("%s", msg)
	}

	r.memberships = resolve.Memberships(r.records[types.KindModule])

	var leaves []*types.Record
	for _, kind := range types.LeafKinds() {
		leaves = append(leaves, r.records[kind]...)
	}
	resolve.BackfillModuleItems(leaves, r.memberships)
	if persister, ok := r.p.Source.(backfillPersister); ok {
		if err := persister.WriteModuleItemIDs(leaves); err != nil {
			return fmt.Errorf("failed to persist backfilled module items: %w", err)
		}
	}
	return nil
}

func (r *run) runStage(ctx context.Context, stage Stage) error {
	switch stage {
	case StageFiles:
		return r.leafStage(ctx, stage, r.createFile)
	case StagePages:
		return r.leafStage(ctx, stage, r.createPage)
	case StageAssignmentGroups:
		return r.leafStage(ctx, stage, r.createAssignmentGroup)
	case StageAssignments:
		return r.leafStage(ctx, stage, r.createAssignment)
	case StageQuizzes:
		return r.leafStage(ctx, stage, r.createQuiz)
	case StageDiscussions:
		return r.leafStage(ctx, stage, r.createDiscussion)
	case StageRubrics:
		return r.leafStage(ctx, stage, r.createRubric)
	case StageModules:
		return r.modulesStage(ctx)
	case StageSettings:
		return r.settingsStage(ctx)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// leafStage drives one stage whose handler creates a single entity per
// record. The handler reports skip via resolve.SkipError and failure via any
// other error; fatal errors abort.
func (r *run) leafStage(ctx context.Context, stage Stage, create func(context.Context, *types.Record) error) error {
	kind := stageKinds[stage]
	c := Counters{Total: len(r.records[kind])}
	for _, rec := range r.records[kind] {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := create(ctx, rec)
		switch {
		case err == nil:
			c.Created++
		case fatal(err):
			r.res.Counters[stage] = c
			return err
		default:
			var skip *resolve.SkipError
			if errors.As(err, &skip) {
				c.Skipped++
				warnf("%s %s skipped: %s", kind, rec.SourceKey(), skip.Reason)
				continue
			}
			c.Failed++
			r.res.Failures = append(r.res.Failures, ItemFailure{
				Stage:     stage,
				Kind:      kind,
				SourceKey: rec.SourceKey(),
				Reason:    err.Error(),
			})
			warnf("%s %s failed: %v", kind, rec.SourceKey(), err)
		}
	}
	r.res.Counters[stage] = c
	return nil
}

func (r *run) createFile(ctx context.Context, rec *types.Record) error {
	if rec.File == nil || rec.File.SHA256 == "" {
		return &resolve.SkipError{Reason: "no payload digest"}
	}
	id, uploaded, err := r.p.Manifest.ResolveOrClaim(rec.File.SHA256, func() (int64, error) {
		newID, err := r.p.Client.UploadFile(ctx, rec)
		if err != nil {
			return 0, &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
		}
		return newID, nil
	})
	if err != nil {
		return err
	}
	if err := r.p.Map.PutInt(idmap.Files, rec.SourceID, id); err != nil {
		return err
	}
	if !uploaded {
		// Identical bytes were already uploaded this run; the mapping is
		// recorded but the item counts as intentionally excluded.
		return &resolve.SkipError{Reason: fmt.Sprintf("duplicate content, reusing file %d", id)}
	}
	return nil
}

func (r *run) createPage(ctx context.Context, rec *types.Record) error {
	if rec.Body == "" {
		return &resolve.SkipError{Reason: "no page body in export"}
	}
	id, slug, err := r.p.Client.CreatePage(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	if rec.Slug != "" {
		if err := r.p.Map.Put(idmap.PagesURL, rec.Slug, slug); err != nil {
			return err
		}
	}
	if id != 0 {
		if err := r.p.Map.PutInt(idmap.Pages, rec.SourceID, id); err != nil {
			return err
		}
	}
	r.createdPages = append(r.createdPages, createdEntity{ID: id, Key: slug, Body: rec.Body})

	if rec.Page != nil && rec.Page.FrontPage {
		if err := r.p.Client.SetFrontPage(ctx, slug); err != nil {
			warnf("page %s created but front page flag failed: %v", slug, err)
		}
	}
	return nil
}

func (r *run) createAssignmentGroup(ctx context.Context, rec *types.Record) error {
	id, err := r.p.Client.CreateAssignmentGroup(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	return r.p.Map.PutInt(idmap.AssignmentGroups, rec.SourceID, id)
}

func (r *run) createAssignment(ctx context.Context, rec *types.Record) error {
	if m := rec.Assignment; m != nil && m.GroupID != 0 {
		newGroup, err := r.p.Map.RequireInt(idmap.AssignmentGroups, m.GroupID)
		if err != nil {
			warnf("assignment %s: group %d is unresolved, default group applies", rec.SourceKey(), m.GroupID)
			m.GroupID = 0
		} else {
			m.GroupID = newGroup
		}
	}
	id, err := r.p.Client.CreateAssignment(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	if err := r.p.Map.PutInt(idmap.Assignments, rec.SourceID, id); err != nil {
		return err
	}
	r.createdAssignments = append(r.createdAssignments, createdEntity{ID: id, Body: rec.Body})
	return nil
}

func (r *run) createQuiz(ctx context.Context, rec *types.Record) error {
	id, err := r.p.Client.CreateQuiz(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	if err := r.p.Map.PutInt(idmap.Quizzes, rec.SourceID, id); err != nil {
		return err
	}
	r.createdQuizzes = append(r.createdQuizzes, createdEntity{ID: id, Body: rec.Body})
	return nil
}

func (r *run) createDiscussion(ctx context.Context, rec *types.Record) error {
	id, err := r.p.Client.CreateDiscussion(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	if err := r.p.Map.PutInt(idmap.Discussions, rec.SourceID, id); err != nil {
		return err
	}
	r.createdDiscussions = append(r.createdDiscussions, createdEntity{ID: id, Body: rec.Body})
	return nil
}

func (r *run) createRubric(ctx context.Context, rec *types.Record) error {
	id, err := r.p.Client.CreateRubric(ctx, rec)
	if err != nil {
		return &RemoteCreationError{Kind: rec.Kind, SourceKey: rec.SourceKey(), Err: err}
	}
	if err := r.p.Map.PutInt(idmap.Rubrics, rec.SourceID, id); err != nil {
		return err
	}
	if rec.Rubric == nil {
		return nil
	}
	for _, srcAssignment := range rec.Rubric.AssignmentIDs {
		newAssignment, err := r.p.Map.RequireInt(idmap.Assignments, srcAssignment)
		if err != nil {
			warnf("rubric %d created but assignment %d is unresolved, association dropped", rec.SourceID, srcAssignment)
			continue
		}
		if err := r.p.Client.AssociateRubric(ctx, id, newAssignment); err != nil {
			warnf("rubric %d created but association with assignment %d failed: %v", rec.SourceID, newAssignment, err)
		}
	}
	return nil
}
