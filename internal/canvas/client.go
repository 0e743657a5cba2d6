package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/courseware-hq/cmigrate/internal/types"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// retryMaxElapsed caps the total time spent retrying one request.
	retryMaxElapsed = 2 * time.Minute

	maxResponseSize = 50 * 1024 * 1024
)

// HTTPClient talks to one Canvas instance and one target course.
type HTTPClient struct {
	BaseURL     string // e.g. https://school.instructure.com
	Token       string
	CourseID    int64  // target course
	OnDuplicate string // file upload collision policy: overwrite or rename

	HTTP *http.Client
}

// NewHTTPClient creates a client for the target course on the given instance.
func NewHTTPClient(baseURL, token string, courseID int64) *HTTPClient {
	return &HTTPClient{
		BaseURL:     baseURL,
		Token:       token,
		CourseID:    courseID,
		OnDuplicate: "overwrite",
		HTTP:        &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient returns a copy using a custom underlying HTTP client.
func (c *HTTPClient) WithHTTPClient(h *http.Client) *HTTPClient {
	cp := *c
	cp.HTTP = h
	return &cp
}

func newRequestBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *HTTPClient) coursePath(suffix string) string {
	return "/api/v1/courses/" + strconv.FormatInt(c.CourseID, 10) + suffix
}

// doJSON performs one authenticated JSON request with retry on rate limits
// and server errors. A 4xx other than 429 is permanent and surfaces as a
// *RemoteError.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	urlStr := c.BaseURL + path
	operation := func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: failed to read response: %w", op, err)
		}

		if retryableStatus(resp.StatusCode) {
			return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)})
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("%s: failed to parse response: %w", op, err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(newRequestBackoff(), ctx))
}

// CreatePage creates a wiki page via POST /courses/:id/pages.
func (c *HTTPClient) CreatePage(ctx context.Context, r *types.Record) (int64, string, error) {
	payload := map[string]any{
		"wiki_page": map[string]any{
			"title":     r.Title,
			"body":      r.Body,
			"published": r.Published,
		},
	}
	var resp struct {
		PageID int64  `json:"page_id"`
		URL    string `json:"url"`
	}
	if err := c.doJSON(ctx, "create page", http.MethodPost, c.coursePath("/pages"), payload, &resp); err != nil {
		return 0, "", err
	}
	if resp.URL == "" {
		return 0, "", &RemoteError{Op: "create page", Body: "response carried no url"}
	}
	return resp.PageID, resp.URL, nil
}

// SetFrontPage promotes a page to the course front page.
func (c *HTTPClient) SetFrontPage(ctx context.Context, slug string) error {
	payload := map[string]any{"wiki_page": map[string]any{"front_page": true}}
	return c.doJSON(ctx, "set front page", http.MethodPut,
		c.coursePath("/pages/"+url.PathEscape(slug)), payload, nil)
}

// UpdatePageBody replaces a page's body.
func (c *HTTPClient) UpdatePageBody(ctx context.Context, slug, body string) error {
	payload := map[string]any{"wiki_page": map[string]any{"body": body}}
	return c.doJSON(ctx, "update page body", http.MethodPut,
		c.coursePath("/pages/"+url.PathEscape(slug)), payload, nil)
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (r idResponse) created(op string) (int64, error) {
	if r.ID == 0 {
		return 0, &RemoteError{Op: op, Body: "response carried no id"}
	}
	return r.ID, nil
}

// CreateAssignmentGroup creates an assignment group via
// POST /courses/:id/assignment_groups. Grading rules and integration data
// pass through uninterpreted.
func (c *HTTPClient) CreateAssignmentGroup(ctx context.Context, r *types.Record) (int64, error) {
	payload := map[string]any{"name": r.Title}
	if r.Position != nil {
		payload["position"] = *r.Position
	}
	if m := r.Group; m != nil {
		if m.GroupWeight != nil {
			payload["group_weight"] = *m.GroupWeight
		}
		if m.Rules != nil {
			payload["rules"] = m.Rules
		}
		if len(m.IntegrationData) > 0 {
			payload["integration_data"] = m.IntegrationData
		}
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create assignment group", http.MethodPost,
		c.coursePath("/assignment_groups"), payload, &resp); err != nil {
		return 0, err
	}
	return resp.created("create assignment group")
}

// CreateAssignment creates an assignment with the metadata the export
// carried.
func (c *HTTPClient) CreateAssignment(ctx context.Context, r *types.Record) (int64, error) {
	fields := map[string]any{
		"name":        r.Title,
		"description": r.Body,
		"published":   r.Published,
	}
	if r.Position != nil {
		fields["position"] = *r.Position
	}
	if m := r.Assignment; m != nil {
		if m.PointsPossible != nil {
			fields["points_possible"] = *m.PointsPossible
		}
		if m.DueAt != "" {
			fields["due_at"] = m.DueAt
		}
		if m.GroupID != 0 {
			fields["assignment_group_id"] = m.GroupID
		}
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create assignment", http.MethodPost, c.coursePath("/assignments"),
		map[string]any{"assignment": fields}, &resp); err != nil {
		return 0, err
	}
	return resp.created("create assignment")
}

// UpdateAssignmentDescription replaces an assignment's description.
func (c *HTTPClient) UpdateAssignmentDescription(ctx context.Context, id int64, body string) error {
	payload := map[string]any{"assignment": map[string]any{"description": body}}
	return c.doJSON(ctx, "update assignment description", http.MethodPut,
		c.coursePath("/assignments/"+strconv.FormatInt(id, 10)), payload, nil)
}

// CreateQuiz creates a quiz; export metadata passes through unvalidated.
func (c *HTTPClient) CreateQuiz(ctx context.Context, r *types.Record) (int64, error) {
	fields := map[string]any{
		"title":       r.Title,
		"description": r.Body,
		"published":   r.Published,
	}
	if m := r.Quiz; m != nil {
		if m.QuizType != "" {
			fields["quiz_type"] = m.QuizType
		}
		if m.PointsPossible != nil {
			fields["points_possible"] = *m.PointsPossible
		}
		if m.TimeLimit != nil {
			fields["time_limit"] = *m.TimeLimit
		}
		if m.AllowedAttempts != nil {
			fields["allowed_attempts"] = *m.AllowedAttempts
		}
		if m.ShuffleAnswers != nil {
			fields["shuffle_answers"] = *m.ShuffleAnswers
		}
		if m.ScoringPolicy != "" {
			fields["scoring_policy"] = m.ScoringPolicy
		}
		if m.OneQuestionAtATime != nil {
			fields["one_question_at_a_time"] = *m.OneQuestionAtATime
		}
		if m.DueAt != "" {
			fields["due_at"] = m.DueAt
		}
		if m.UnlockAt != "" {
			fields["unlock_at"] = m.UnlockAt
		}
		if m.LockAt != "" {
			fields["lock_at"] = m.LockAt
		}
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create quiz", http.MethodPost, c.coursePath("/quizzes"),
		map[string]any{"quiz": fields}, &resp); err != nil {
		return 0, err
	}
	return resp.created("create quiz")
}

// UpdateQuizDescription replaces a quiz's description.
func (c *HTTPClient) UpdateQuizDescription(ctx context.Context, id int64, body string) error {
	payload := map[string]any{"quiz": map[string]any{"description": body}}
	return c.doJSON(ctx, "update quiz description", http.MethodPut,
		c.coursePath("/quizzes/"+strconv.FormatInt(id, 10)), payload, nil)
}

// CreateDiscussion creates a discussion topic or announcement.
func (c *HTTPClient) CreateDiscussion(ctx context.Context, r *types.Record) (int64, error) {
	payload := map[string]any{
		"title":     r.Title,
		"message":   r.Body,
		"published": r.Published,
	}
	if m := r.Discussion; m != nil {
		if m.IsAnnouncement {
			payload["is_announcement"] = true
		}
		if m.DiscussionType != "" {
			payload["discussion_type"] = m.DiscussionType
		}
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create discussion", http.MethodPost, c.coursePath("/discussion_topics"),
		payload, &resp); err != nil {
		return 0, err
	}
	return resp.created("create discussion")
}

// UpdateDiscussionMessage replaces a discussion topic's message.
func (c *HTTPClient) UpdateDiscussionMessage(ctx context.Context, id int64, body string) error {
	payload := map[string]any{"message": body}
	return c.doJSON(ctx, "update discussion message", http.MethodPut,
		c.coursePath("/discussion_topics/"+strconv.FormatInt(id, 10)), payload, nil)
}

// CreateModule creates an empty module; items are added one by one.
func (c *HTTPClient) CreateModule(ctx context.Context, r *types.Record) (int64, error) {
	fields := map[string]any{
		"name":      r.Title,
		"published": r.Published,
	}
	if r.Position != nil {
		fields["position"] = *r.Position
	}
	var resp idResponse
	if err := c.doJSON(ctx, "create module", http.MethodPost, c.coursePath("/modules"),
		map[string]any{"module": fields}, &resp); err != nil {
		return 0, err
	}
	return resp.created("create module")
}

// CreateModuleItem adds one resolved item to a module. The variant switch is
// exhaustive over the closed reference set.
func (c *HTTPClient) CreateModuleItem(ctx context.Context, moduleID int64, item types.ModuleItem, ref types.ItemRef) (int64, error) {
	fields := map[string]any{
		"title":     item.Title,
		"published": item.Published,
	}
	if item.Position != nil {
		fields["position"] = *item.Position
	}
	if item.Indent > 0 {
		fields["indent"] = item.Indent
	}

	switch v := ref.(type) {
	case types.PageRef:
		fields["type"] = "Page"
		fields["page_url"] = v.Slug
	case types.AssignmentRef:
		fields["type"] = "Assignment"
		fields["content_id"] = v.ID
	case types.QuizRef:
		fields["type"] = "Quiz"
		fields["content_id"] = v.ID
	case types.DiscussionRef:
		fields["type"] = "Discussion"
		fields["content_id"] = v.ID
	case types.FileRef:
		fields["type"] = "File"
		fields["content_id"] = v.ID
	case types.ExternalURLRef:
		fields["type"] = "ExternalUrl"
		fields["external_url"] = v.URL
		fields["new_tab"] = v.NewTab
	case types.ExternalToolRef:
		fields["type"] = "ExternalTool"
		fields["external_url"] = v.URL
		fields["new_tab"] = v.NewTab
	case types.SubHeaderRef:
		fields["type"] = "SubHeader"
	default:
		return 0, fmt.Errorf("unhandled item reference %T", ref)
	}

	var resp idResponse
	path := c.coursePath("/modules/" + strconv.FormatInt(moduleID, 10) + "/items")
	if err := c.doJSON(ctx, "create module item", http.MethodPost, path,
		map[string]any{"module_item": fields}, &resp); err != nil {
		return 0, err
	}
	return resp.created("create module item")
}

// CreateRubric creates a rubric, passing the exported criterion structure
// through verbatim.
func (c *HTTPClient) CreateRubric(ctx context.Context, r *types.Record) (int64, error) {
	payload := map[string]any{"title": r.Title}
	if m := r.Rubric; m != nil {
		payload["rubric"] = m.Criteria
		payload["free_form_criterion_comments"] = m.FreeForm
	}
	var resp struct {
		ID     int64 `json:"id"`
		Rubric struct {
			ID int64 `json:"id"`
		} `json:"rubric"`
	}
	if err := c.doJSON(ctx, "create rubric", http.MethodPost, c.coursePath("/rubrics"),
		payload, &resp); err != nil {
		return 0, err
	}
	id := resp.ID
	if id == 0 {
		id = resp.Rubric.ID
	}
	if id == 0 {
		return 0, &RemoteError{Op: "create rubric", Body: "response carried no id"}
	}
	return id, nil
}

// AssociateRubric attaches an already-created rubric to an assignment.
func (c *HTTPClient) AssociateRubric(ctx context.Context, rubricID, assignmentID int64) error {
	payload := map[string]any{
		"rubric_association": map[string]any{
			"rubric_id":        rubricID,
			"association_type": "Assignment",
			"association_id":   assignmentID,
			"use_for_grading":  true,
			"purpose":          "grading",
		},
	}
	return c.doJSON(ctx, "associate rubric", http.MethodPost,
		c.coursePath("/rubric_associations"), payload, nil)
}

// UpdateCourse applies course identity fields via PUT /courses/:id.
func (c *HTTPClient) UpdateCourse(ctx context.Context, fields map[string]any) error {
	return c.doJSON(ctx, "update course", http.MethodPut,
		"/api/v1/courses/"+strconv.FormatInt(c.CourseID, 10),
		map[string]any{"course": fields}, nil)
}

// UpdateCourseSettings applies the merged settings block.
func (c *HTTPClient) UpdateCourseSettings(ctx context.Context, settings map[string]any) error {
	return c.doJSON(ctx, "update course settings", http.MethodPut,
		c.coursePath("/settings"), settings, nil)
}
