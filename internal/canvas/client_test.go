package canvas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/courseware-hq/cmigrate/internal/types"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, "test-token", 456)
	return c, srv
}

func TestCreatePage(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"page_id": 81, "url": "welcome-2"})
	}))

	rec := &types.Record{Kind: types.KindPage, SourceID: 5, Title: "Welcome", Body: "<p>hi</p>", Published: true}
	id, slug, err := c.CreatePage(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if id != 81 || slug != "welcome-2" {
		t.Fatalf("got id=%d slug=%q, want 81 welcome-2", id, slug)
	}
	if gotPath != "/api/v1/courses/456/pages" {
		t.Fatalf("posted to %s", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	page, ok := gotPayload["wiki_page"].(map[string]any)
	if !ok || page["title"] != "Welcome" {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
}

func TestCreateAssignmentRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": "bad dates"}`, http.StatusUnprocessableEntity)
	}))

	_, err := c.CreateAssignment(context.Background(), &types.Record{Title: "HW"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRemote(err) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 910})
	}))

	id, err := c.CreateAssignment(context.Background(), &types.Record{Title: "HW"})
	if err != nil {
		t.Fatalf("CreateAssignment after retry: %v", err)
	}
	if id != 910 || attempts != 2 {
		t.Fatalf("id=%d attempts=%d, want 910 after 2 attempts", id, attempts)
	}
}

func TestCreateAssignmentGroup(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 2222})
	}))

	weight := 40.0
	pos := 1
	rec := &types.Record{
		Kind: types.KindAssignmentGroup, SourceID: 11, Title: "Homework", Position: &pos,
		Group: &types.AssignmentGroupMeta{
			GroupWeight: &weight,
			Rules:       map[string]any{"drop_lowest": 1},
		},
	}
	id, err := c.CreateAssignmentGroup(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateAssignmentGroup: %v", err)
	}
	if id != 2222 {
		t.Fatalf("group id = %d, want 2222", id)
	}
	if gotPath != "/api/v1/courses/456/assignment_groups" {
		t.Fatalf("posted to %s", gotPath)
	}
	if gotPayload["name"] != "Homework" || gotPayload["group_weight"] != 40.0 {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
	rules, ok := gotPayload["rules"].(map[string]any)
	if !ok || rules["drop_lowest"] != float64(1) {
		t.Fatalf("rules not forwarded: %v", gotPayload["rules"])
	}
}

func TestCreateAssignmentCarriesGroupID(t *testing.T) {
	var gotPayload map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 910})
	}))

	rec := &types.Record{
		Kind: types.KindAssignment, Title: "HW",
		Assignment: &types.AssignmentMeta{GroupID: 2222},
	}
	if _, err := c.CreateAssignment(context.Background(), rec); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	fields, ok := gotPayload["assignment"].(map[string]any)
	if !ok || fields["assignment_group_id"] != float64(2222) {
		t.Fatalf("assignment_group_id not forwarded: %v", gotPayload)
	}
}

func TestCreateModuleItemPayloads(t *testing.T) {
	cases := []struct {
		name string
		ref  types.ItemRef
		want map[string]any
	}{
		{"page", types.PageRef{Slug: "welcome-2"}, map[string]any{"type": "Page", "page_url": "welcome-2"}},
		{"assignment", types.AssignmentRef{ID: 910}, map[string]any{"type": "Assignment", "content_id": float64(910)}},
		{"file", types.FileRef{ID: 900}, map[string]any{"type": "File", "content_id": float64(900)}},
		{"external url", types.ExternalURLRef{URL: "https://example.com", NewTab: true},
			map[string]any{"type": "ExternalUrl", "external_url": "https://example.com", "new_tab": true}},
		{"subheader", types.SubHeaderRef{}, map[string]any{"type": "SubHeader"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotPayload map[string]any
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&gotPayload)
				_ = json.NewEncoder(w).Encode(map[string]any{"id": 1})
			}))

			item := types.ModuleItem{Title: "Item", Published: true}
			if _, err := c.CreateModuleItem(context.Background(), 77, item, tc.ref); err != nil {
				t.Fatalf("CreateModuleItem: %v", err)
			}
			fields, ok := gotPayload["module_item"].(map[string]any)
			if !ok {
				t.Fatalf("no module_item envelope: %v", gotPayload)
			}
			for k, want := range tc.want {
				if fields[k] != want {
					t.Fatalf("field %s = %v, want %v", k, fields[k], want)
				}
			}
		})
	}
}

func TestUploadFileThreeSteps(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "syllabus.pdf")
	if err := os.WriteFile(payload, []byte("pdf bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var reserved, stored, finalized bool
	mux.HandleFunc("/api/v1/courses/456/files", func(w http.ResponseWriter, r *http.Request) {
		reserved = true
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["name"] != "syllabus.pdf" || req["parent_folder_path"] != "docs" {
			t.Errorf("unexpected reserve payload: %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"upload_url":    srv.URL + "/store",
			"upload_params": map[string]string{"key": "abc"},
		})
	})
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		stored = true
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if r.FormValue("key") != "abc" {
			t.Errorf("upload_params not forwarded: %v", r.Form)
		}
		w.Header().Set("Location", srv.URL+"/finalize")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		finalized = true
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("finalize missing token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 9001})
	})

	c := NewHTTPClient(srv.URL, "test-token", 456)
	rec := &types.Record{
		Kind:     types.KindFile,
		SourceID: 3001,
		Title:    "syllabus.pdf",
		File: &types.FileMeta{
			Filename:   "syllabus.pdf",
			FolderPath: "docs",
			FilePath:   payload,
		},
	}
	id, err := c.UploadFile(context.Background(), rec)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if id != 9001 {
		t.Fatalf("file id = %d, want 9001", id)
	}
	if !reserved || !stored || !finalized {
		t.Fatalf("steps run: reserve=%v store=%v finalize=%v", reserved, stored, finalized)
	}
}

func TestUpdateCourseSettings(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))

	err := c.UpdateCourseSettings(context.Background(), map[string]any{"hide_final_grades": true})
	if err != nil {
		t.Fatalf("UpdateCourseSettings: %v", err)
	}
	if gotPath != "/api/v1/courses/456/settings" {
		t.Fatalf("put to %s", gotPath)
	}
	if gotPayload["hide_final_grades"] != true {
		t.Fatalf("payload = %v", gotPayload)
	}
}
