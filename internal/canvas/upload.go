package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"

	"github.com/cenkalti/backoff/v4"

	"github.com/courseware-hq/cmigrate/internal/types"
)

// UploadFile runs the Canvas three-step upload flow:
//
//  1. POST /courses/:id/files to reserve an upload slot; the response carries
//     upload_url and upload_params.
//  2. POST the payload as multipart form data to upload_url, which is often a
//     different host (S3 or the instance's file store). The file part must be
//     the last form field.
//  3. If the store answers with a redirect, finalize by following the
//     Location with the API token; the finalize response carries the file id.
//
// Folder paths from the export are created on demand by parent_folder_path.
func (c *HTTPClient) UploadFile(ctx context.Context, r *types.Record) (int64, error) {
	meta := r.File
	if meta == nil {
		return 0, fmt.Errorf("record %d has no file metadata", r.SourceID)
	}

	info, err := os.Stat(meta.FilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat payload: %w", err)
	}

	onDuplicate := c.OnDuplicate
	if onDuplicate == "" {
		onDuplicate = "overwrite"
	}
	reserve := map[string]any{
		"name":               meta.Filename,
		"size":               info.Size(),
		"parent_folder_path": meta.FolderPath,
		"on_duplicate":       onDuplicate,
	}
	if meta.ContentType != "" {
		reserve["content_type"] = meta.ContentType
	}

	var slot struct {
		UploadURL    string            `json:"upload_url"`
		UploadParams map[string]string `json:"upload_params"`
	}
	if err := c.doJSON(ctx, "reserve upload", http.MethodPost, c.coursePath("/files"), reserve, &slot); err != nil {
		return 0, err
	}
	if slot.UploadURL == "" {
		return 0, &RemoteError{Op: "reserve upload", Body: "response carried no upload_url"}
	}

	var id int64
	op := func() error {
		var postErr error
		id, postErr = c.postPayload(ctx, slot.UploadURL, slot.UploadParams, meta)
		return postErr
	}
	if err := backoff.Retry(op, backoff.WithContext(newRequestBackoff(), ctx)); err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, &RemoteError{Op: "upload file", Body: "upload completed without a file id"}
	}
	return id, nil
}

// postPayload performs steps 2 and 3 for one reserved slot.
func (c *HTTPClient) postPayload(ctx context.Context, uploadURL string, params map[string]string, meta *types.FileMeta) (int64, error) {
	f, err := os.Open(meta.FilePath) // #nosec G304 - path comes from the export bundle
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to open payload: %w", err))
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for k, v := range params {
			if err := mw.WriteField(k, v); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("file", path.Base(meta.Filename))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// The store host must see the redirect, not the Go client: finalizing
	// needs the API token re-attached, which automatic redirects drop.
	client := &http.Client{
		Timeout: c.HTTP.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload file: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("upload file: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return 0, backoff.Permanent(&RemoteError{Op: "upload file", StatusCode: resp.StatusCode, Body: "redirect without Location"})
		}
		return c.finalizeUpload(ctx, location)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out idResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return 0, backoff.Permanent(fmt.Errorf("upload file: failed to parse response: %w", err))
		}
		return out.ID, nil
	case retryableStatus(resp.StatusCode):
		return 0, &RemoteError{Op: "upload file", StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return 0, backoff.Permanent(&RemoteError{Op: "upload file", StatusCode: resp.StatusCode, Body: string(body)})
	}
}

// finalizeUpload follows the store's redirect with API credentials.
func (c *HTTPClient) finalizeUpload(ctx context.Context, location string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("finalize upload: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("finalize upload: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, backoff.Permanent(&RemoteError{Op: "finalize upload", StatusCode: resp.StatusCode, Body: string(body)})
	}

	var out idResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("finalize upload: failed to parse response: %w", err))
	}
	return out.ID, nil
}
