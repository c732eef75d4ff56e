package buffer

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferGrowDoubles(t *testing.T) {
	b := NewSize(8, 1024)

	if _, err := b.Write([]byte("12345678")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if b.Cap() != 8 {
		t.Errorf("Expected capacity 8, got %d", b.Cap())
	}

	// one more byte forces a single doubling
	if _, err := b.Write([]byte("9")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if b.Cap() != 16 {
		t.Errorf("Expected capacity 16, got %d", b.Cap())
	}

	// a large write doubles until it fits
	if _, err := b.Write(bytes.Repeat([]byte("x"), 40)); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if b.Cap() != 64 {
		t.Errorf("Expected capacity 64, got %d", b.Cap())
	}
	if b.Len() != 49 {
		t.Errorf("Expected length 49, got %d", b.Len())
	}
	if !bytes.HasPrefix(b.Bytes(), []byte("123456789xx")) {
		t.Errorf("Data lost during growth: %q", b.Bytes()[:11])
	}
}

func TestBufferNeverTruncates(t *testing.T) {
	b := NewSize(4, 16)

	payload := []byte("0123456789abcdef")
	if _, err := b.Write(payload); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !bytes.Equal(b.Bytes(), payload) {
		t.Errorf("Expected %q, got %q", payload, b.Bytes())
	}

	n, err := b.Write([]byte("!"))
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Expected ErrBufferFull, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing written, got %d", n)
	}
	if b.Len() != 16 || b.Cap() != 16 {
		t.Errorf("Buffer changed after failed write: len=%d cap=%d", b.Len(), b.Cap())
	}
}

func TestBufferGrowClampsToMax(t *testing.T) {
	b := NewSize(8, 12)

	if _, err := b.Write(bytes.Repeat([]byte("x"), 12)); err != nil {
		t.Fatalf("Expected 12 bytes to fit a 12 byte max, got %v", err)
	}
	if b.Cap() != 12 {
		t.Errorf("Expected capacity 12, got %d", b.Cap())
	}

	if _, err := b.Write([]byte("!")); !errors.Is(err, ErrBufferFull) {
		t.Errorf("Expected ErrBufferFull past max, got %v", err)
	}
	if b.Len() != 12 {
		t.Errorf("Expected length 12, got %d", b.Len())
	}
}

func TestBufferCommitAndFree(t *testing.T) {
	b := NewSize(8, 64)
	n := copy(b.Free(), "GET /")
	b.Commit(n)

	if string(b.Bytes()) != "GET /" {
		t.Errorf("Expected %q, got %q", "GET /", b.Bytes())
	}
	if len(b.Free()) != 3 {
		t.Errorf("Expected 3 free bytes, got %d", len(b.Free()))
	}
}

func TestBufferConsume(t *testing.T) {
	b := NewSize(16, 64)
	b.Write([]byte("first|second"))

	b.Consume(6)
	if string(b.Bytes()) != "second" {
		t.Errorf("Expected %q, got %q", "second", b.Bytes())
	}

	capBefore := b.Cap()
	b.Consume(100)
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", b.Len())
	}
	if b.Cap() != capBefore {
		t.Errorf("Capacity must not shrink: %d -> %d", capBefore, b.Cap())
	}
}

func TestBufferResetKeepsCapacity(t *testing.T) {
	b := NewSize(4, 64)
	b.Write([]byte("0123456789"))
	c := b.Cap()

	b.Reset()
	if b.Len() != 0 || b.Cap() != c {
		t.Errorf("Expected len=0 cap=%d, got len=%d cap=%d", c, b.Len(), b.Cap())
	}
}

func BenchmarkBufferWrite(b *testing.B) {
	chunk := bytes.Repeat([]byte("a"), 512)
	buf := NewSize(DefaultInitialSize, DefaultMaxSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := buf.Write(chunk); err != nil {
			buf.Reset()
		}
	}
}
