package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
)

func testIdentity(params string) index.Identity {
	return index.NewIdentity(params)
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("fastar"), n)
}

func TestAcquire_CreatesThenAttaches(t *testing.T) {
	store := NewStore(t.TempDir())
	id := testIdentity("a")
	data := payload(100)

	calls := 0
	provide := func() ([]byte, error) {
		calls++
		return data, nil
	}

	first, err := store.Acquire(id, provide)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer first.Close()
	if !first.Created() {
		t.Fatal("first Acquire() should create the segment")
	}
	if !bytes.Equal(first.Archive(), data) {
		t.Fatal("Archive() differs from the provided bytes")
	}
	if first.Identity() != id.Tag {
		t.Fatalf("Identity() = %s, want %s", first.Identity(), id.Tag)
	}

	second, err := store.Acquire(id, provide)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	defer second.Close()
	if calls != 1 {
		t.Fatalf("provider called %d times, want 1", calls)
	}
	if second.Created() {
		t.Fatal("second Acquire() should attach, not create")
	}
	if second.Name() != first.Name() || second.Name() != NameFor(id.Tag) {
		t.Fatalf("Name() = %s, want %s", second.Name(), first.Name())
	}
	if !bytes.Equal(second.Archive(), first.Archive()) {
		t.Fatal("attached archive differs from created archive")
	}
}

func TestAttach_NotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Attach(NameFor(testIdentity("x").Tag), "")
	if !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
		t.Fatalf("Attach() error = %v, want SEGMENT_NOT_FOUND", err)
	}

	for _, name := range []string{"other", "fastar-../../etc", "fastar-abc.lock"} {
		if _, err := store.Attach(name, ""); !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
			t.Errorf("Attach(%q) error = %v, want SEGMENT_NOT_FOUND", name, err)
		}
	}
}

func TestAttach_IdentityMismatch(t *testing.T) {
	store := NewStore(t.TempDir())
	id := testIdentity("a")
	h, err := store.Acquire(id, func() ([]byte, error) { return payload(1), nil })
	if err != nil {
		t.Fatal(err)
	}
	h.Close()

	_, err = store.Attach(h.Name(), testIdentity("b").Tag)
	if !errors.Is(err, fastarerrors.ErrIdentityMismatch) {
		t.Fatalf("Attach() error = %v, want IDENTITY_MISMATCH", err)
	}

	// An empty expectation accepts whatever is stored.
	h2, err := store.Attach(h.Name(), "")
	if err != nil {
		t.Fatalf("Attach() without expectation error = %v", err)
	}
	h2.Close()
}

func TestAttach_Corrupt(t *testing.T) {
	tests := []struct {
		name  string
		patch func(b []byte) []byte
	}{
		{name: "short", patch: func(b []byte) []byte { return b[:100] }},
		{name: "magic", patch: func(b []byte) []byte { b[0] = 'x'; return b }},
		{name: "version", patch: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offVersion:], 7); return b }},
		{name: "length", patch: func(b []byte) []byte { binary.LittleEndian.PutUint64(b[offLength:], 1<<40); return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir)
			id := testIdentity(tt.name)
			h, err := store.Acquire(id, func() ([]byte, error) { return payload(10), nil })
			if err != nil {
				t.Fatal(err)
			}
			h.Close()

			path := filepath.Join(dir, h.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.Remove(path); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, tt.patch(raw), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err = store.Attach(h.Name(), id.Tag)
			if !errors.Is(err, fastarerrors.ErrCorruptArchive) {
				t.Fatalf("Attach() error = %v, want CORRUPT_ARCHIVE", err)
			}
		})
	}
}

func TestAcquire_ProviderFailure(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id := testIdentity("a")

	_, err := store.Acquire(id, func() ([]byte, error) {
		return nil, fastarerrors.ErrMalformedIndex
	})
	if !errors.Is(err, fastarerrors.ErrMalformedIndex) {
		t.Fatalf("Acquire() error = %v, want MALFORMED_INDEX", err)
	}

	if _, err := store.Attach(NameFor(id.Tag), ""); !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
		t.Fatalf("segment discoverable after provider failure: %v", err)
	}
	assertNoStaging(t, dir)

	// A later Acquire may succeed.
	h, err := store.Acquire(id, func() ([]byte, error) { return payload(2), nil })
	if err != nil {
		t.Fatalf("Acquire() after failure error = %v", err)
	}
	h.Close()
}

func TestAcquire_Concurrent(t *testing.T) {
	dir := t.TempDir()
	id := testIdentity("concurrent")
	data := payload(5000)

	var calls atomic.Int32
	provide := func() ([]byte, error) {
		calls.Add(1)
		return data, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate stores model separate processes sharing the directory.
			handles[i], errs[i] = NewStore(dir).Acquire(id, provide)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error = %v", i, errs[i])
		}
		if !bytes.Equal(handles[i].Archive(), data) {
			t.Fatalf("worker %d sees different archive bytes", i)
		}
		if handles[i].Created() {
			created++
		}
		handles[i].Close()
	}
	if calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", calls.Load())
	}
	if created != 1 {
		t.Fatalf("%d handles report creating the segment, want 1", created)
	}
	assertNoStaging(t, dir)
}

func TestCreate_Conflict(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id := testIdentity("a")
	name := NameFor(id.Tag)

	if err := store.create(name, id.Tag, payload(3)); err != nil {
		t.Fatalf("create() error = %v", err)
	}
	err := store.create(name, id.Tag, payload(4))
	if !errors.Is(err, errCreateConflict) {
		t.Fatalf("second create() error = %v, want CREATE_CONFLICT", err)
	}

	h, err := store.Attach(name, id.Tag)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if !bytes.Equal(h.Archive(), payload(3)) {
		t.Fatal("losing create() replaced the published segment")
	}
	assertNoStaging(t, dir)
}

func TestListRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	var names []string
	for _, p := range []string{"a", "b"} {
		h, err := store.Acquire(testIdentity(p), func() ([]byte, error) { return payload(1), nil })
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name())
		h.Close()
	}
	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "unrelated"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() = %v, want 2 segments", infos)
	}
	for _, info := range infos {
		if info.Identity == "" {
			t.Errorf("segment %s has no identity", info.Name)
		}
		if info.Size != HeaderPageSize+int64(len(payload(1))) {
			t.Errorf("segment %s size = %d", info.Name, info.Size)
		}
	}

	if err := store.Remove(names[0]); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(names[0]); !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
		t.Fatalf("second Remove() error = %v, want SEGMENT_NOT_FOUND", err)
	}
	infos, err = store.List()
	if err != nil || len(infos) != 1 {
		t.Fatalf("List() after Remove = %v, %v", infos, err)
	}
}

func TestList_MissingDir(t *testing.T) {
	infos, err := NewStore(filepath.Join(t.TempDir(), "absent")).List()
	if err != nil || infos != nil {
		t.Fatalf("List() = %v, %v, want nil, nil", infos, err)
	}
}

func TestHandle_CloseIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	h, err := store.Acquire(testIdentity("a"), func() ([]byte, error) { return payload(1), nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if h.Archive() != nil {
		t.Fatal("Archive() after Close should be nil")
	}
}

func TestNameFor(t *testing.T) {
	id := testIdentity("a")
	name := NameFor(id.Tag)
	if name != Prefix+id.Short() {
		t.Fatalf("NameFor() = %s, want %s", name, Prefix+id.Short())
	}
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("staging file %s left behind", e.Name())
		}
	}
}
