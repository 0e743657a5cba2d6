package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestClaimThenHit(t *testing.T) {
	m := NewManifest()
	uploads := 0
	up := func() (int64, error) {
		uploads++
		return 9001, nil
	}

	id, uploaded, err := m.ResolveOrClaim("abc123", up)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !uploaded || id != 9001 {
		t.Fatalf("first claim = id %d uploaded %v; want 9001 true", id, uploaded)
	}

	// Second record with the same digest: no upload, same id.
	id2, uploaded2, err := m.ResolveOrClaim("abc123", up)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if uploaded2 {
		t.Fatal("second claim invoked upload")
	}
	if id2 != id {
		t.Fatalf("second claim resolved to %d, want %d", id2, id)
	}
	if uploads != 1 {
		t.Fatalf("upload invoked %d times, want exactly 1", uploads)
	}
}

func TestDistinctDigests(t *testing.T) {
	m := NewManifest()
	next := int64(100)
	up := func() (int64, error) {
		next++
		return next, nil
	}

	a, _, err := m.ResolveOrClaim("digest-a", up)
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	b, _, err := m.ResolveOrClaim("digest-b", up)
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if a == b {
		t.Fatalf("distinct digests resolved to the same id %d", a)
	}
	if m.Len() != 2 {
		t.Fatalf("manifest length %d, want 2", m.Len())
	}
}

func TestUploadErrorNotRegistered(t *testing.T) {
	m := NewManifest()
	boom := errors.New("upload rejected")

	_, _, err := m.ResolveOrClaim("digest-x", func() (int64, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if _, ok := m.Lookup("digest-x"); ok {
		t.Fatal("failed upload was registered in manifest")
	}

	// Retry with a working upload succeeds.
	id, uploaded, err := m.ResolveOrClaim("digest-x", func() (int64, error) { return 42, nil })
	if err != nil || !uploaded || id != 42 {
		t.Fatalf("retry = %d %v %v; want 42 true nil", id, uploaded, err)
	}
}

func TestConcurrentClaimsUploadOnce(t *testing.T) {
	m := NewManifest()
	var uploads atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	up := func() (int64, error) {
		uploads.Add(1)
		close(started)
		<-release
		return 7777, nil
	}

	results := make([]int64, 2)
	uploaded := make([]bool, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, up1, err := m.ResolveOrClaim("shared", up)
		if err != nil {
			t.Errorf("first claim: %v", err)
		}
		results[0], uploaded[0] = id, up1
	}()

	// Second claim enters while the first upload is still in flight.
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, up2, err := m.ResolveOrClaim("shared", up)
		if err != nil {
			t.Errorf("second claim: %v", err)
		}
		results[1], uploaded[1] = id, up2
	}()
	close(release)
	wg.Wait()

	if n := uploads.Load(); n != 1 {
		t.Fatalf("upload invoked %d times for one digest, want exactly 1", n)
	}
	if results[0] != 7777 || results[1] != 7777 {
		t.Fatalf("claims resolved to %v, want both 7777", results)
	}
	if uploaded[0] == uploaded[1] {
		t.Fatalf("exactly one claim should report uploaded, got %v", uploaded)
	}
}

func TestConcurrentClaimRetriesAfterFailure(t *testing.T) {
	m := NewManifest()
	boom := errors.New("store unavailable")
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := m.ResolveOrClaim("digest-y", func() (int64, error) {
			close(started)
			<-release
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("first claim error = %v, want %v", err, boom)
		}
	}()

	// The waiter arrives mid-flight, sees the failure, and uploads itself.
	<-started
	done := make(chan struct{})
	go func() {
		defer close(done)
		id, uploaded, err := m.ResolveOrClaim("digest-y", func() (int64, error) { return 88, nil })
		if err != nil || !uploaded || id != 88 {
			t.Errorf("waiter claim = %d %v %v; want 88 true nil", id, uploaded, err)
		}
	}()
	close(release)
	wg.Wait()
	<-done

	if id, ok := m.Lookup("digest-y"); !ok || id != 88 {
		t.Fatalf("manifest holds %d %v, want 88 true", id, ok)
	}
}

func TestEmptyDigestRejected(t *testing.T) {
	m := NewManifest()
	if _, _, err := m.ResolveOrClaim("", func() (int64, error) { return 1, nil }); err == nil {
		t.Fatal("empty digest accepted")
	}
}
