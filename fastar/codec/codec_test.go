package codec

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/klauspost/compress/gzip"
)

func gzipMember(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBGZF_DecompressBlock(t *testing.T) {
	d := NewBGZF()
	want := []byte("ACGTACGTNN\nacgt\n")

	got, err := d.DecompressBlock(gzipMember(t, want))
	if err != nil {
		t.Fatalf("DecompressBlock() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("DecompressBlock() = %q, want %q", got, want)
	}
}

func TestBGZF_MultipleMembers(t *testing.T) {
	d := NewBGZF()
	span := append(gzipMember(t, []byte("first\n")), gzipMember(t, []byte("second\n"))...)
	span = append(span, gzipMember(t, nil)...)

	got, err := d.DecompressBlock(span)
	if err != nil {
		t.Fatalf("DecompressBlock() error = %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Fatalf("DecompressBlock() = %q", got)
	}
}

func TestBGZF_Corrupt(t *testing.T) {
	d := NewBGZF()
	member := gzipMember(t, bytes.Repeat([]byte("ACGT"), 100))

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "not gzip", input: []byte("plain text, not compressed")},
		{name: "truncated", input: member[:len(member)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecompressBlock(tt.input)
			if !errors.Is(err, fastarerrors.ErrDecompressionFailed) {
				t.Fatalf("DecompressBlock() error = %v, want DECOMPRESSION_FAILED", err)
			}
		})
	}

	// The pool must still hand out working readers after failures.
	if _, err := d.DecompressBlock(member); err != nil {
		t.Fatalf("DecompressBlock() after failures error = %v", err)
	}
}

func TestBGZF_Concurrent(t *testing.T) {
	d := NewBGZF()
	want := bytes.Repeat([]byte("GATTACA\n"), 512)
	member := gzipMember(t, want)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.DecompressBlock(member)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, want) {
				errs <- errors.New("mismatched output")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestDecompressorFunc(t *testing.T) {
	calls := 0
	var d Decompressor = DecompressorFunc(func(b []byte) ([]byte, error) {
		calls++
		return b, nil
	})
	if _, err := d.DecompressBlock([]byte("x")); err != nil || calls != 1 {
		t.Fatalf("DecompressorFunc call = %d, err = %v", calls, err)
	}
}
