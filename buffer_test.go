package eventstore

import "testing"

func TestWriteBufferAppendAndFits(t *testing.T) {
	b := newWriteBuffer(8)
	if !b.fits(8) {
		t.Fatal("fits(8) should be true on an empty 8-byte buffer")
	}
	b.append([]byte("abcd"), nil)
	if b.len() != 4 {
		t.Fatalf("len() = %d, want 4", b.len())
	}
	if !b.fits(4) {
		t.Fatal("fits(4) should be true with 4 bytes free")
	}
	if b.fits(5) {
		t.Fatal("fits(5) should be false with only 4 bytes free")
	}
}

func TestWriteBufferTailAndContains(t *testing.T) {
	b := newWriteBuffer(16)
	b.append([]byte("hello"), nil)
	if b.tail() != 5 {
		t.Fatalf("tail() = %d, want 5", b.tail())
	}
	if !b.contains(0, 5) {
		t.Fatal("contains(0, 5) should be true")
	}
	if b.contains(3, 5) {
		t.Fatal("contains(3, 5) should be false, extends past tail")
	}
}

func TestWriteBufferReadAt(t *testing.T) {
	b := newWriteBuffer(16)
	b.append([]byte("hello"), nil)
	dst := make([]byte, 3)
	b.readAt(dst, 1)
	if string(dst) != "ell" {
		t.Fatalf("got %q, want %q", dst, "ell")
	}
}

func TestWriteBufferResetReturnsCallbacksAndMovesBase(t *testing.T) {
	b := newWriteBuffer(16)
	var fired []int
	b.append([]byte("aa"), func() { fired = append(fired, 1) })
	b.append([]byte("bb"), func() { fired = append(fired, 2) })

	fns := b.reset(4)
	for _, fn := range fns {
		fn()
	}
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired = %v, want [1 2] in order", fired)
	}
	if b.len() != 0 {
		t.Fatalf("len() = %d after reset, want 0", b.len())
	}
	if b.base != 4 {
		t.Fatalf("base = %d after reset, want 4", b.base)
	}
}

func TestWriteBufferTruncateDropsEverything(t *testing.T) {
	b := newWriteBuffer(16)
	b.base = 10
	b.append([]byte("abcdef"), func() {})

	b.truncate(5)
	if b.base != 5 {
		t.Fatalf("base = %d, want 5", b.base)
	}
	if b.len() != 0 {
		t.Fatalf("len() = %d, want 0", b.len())
	}
	if len(b.callbacks) != 0 {
		t.Fatalf("callbacks = %d, want 0", len(b.callbacks))
	}
}

func TestWriteBufferTruncatePartial(t *testing.T) {
	b := newWriteBuffer(16)
	var fired []int64
	b.append([]byte("abcdef"), func() { fired = append(fired, 1) }) // callback offset = 6
	b.truncate(3)

	if b.len() != 3 {
		t.Fatalf("len() = %d, want 3", b.len())
	}
	if string(b.buf) != "abc" {
		t.Fatalf("buf = %q, want %q", b.buf, "abc")
	}
	if len(b.callbacks) != 0 {
		t.Fatal("callback registered past the truncation point should be discarded, not invoked")
	}
}

func TestWriteBufferTruncateAboveTailIsNoop(t *testing.T) {
	b := newWriteBuffer(16)
	b.append([]byte("abc"), nil)
	b.truncate(1000)
	if b.len() != 3 {
		t.Fatalf("len() = %d, want 3 (truncate above tail should be a no-op)", b.len())
	}
}
