package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFormatHelpers(t *testing.T) {
	f := DefaultFormat()
	if got := f.BytesPerSecond(); got != 96000 {
		t.Fatalf("BytesPerSecond() = %d, want 96000", got)
	}
	if got := f.BytesForDurationMs(100); got != 9600 {
		t.Fatalf("BytesForDurationMs(100) = %d, want 9600", got)
	}
	if got := f.DurationMs(9600); got != 100 {
		t.Fatalf("DurationMs(9600) = %d, want 100", got)
	}
}

func TestChunker_AccumulatesAcrossPushes(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	c := NewChunker(f, 100) // 1600-byte frames

	if frames := c.Push(make([]byte, 1000)); frames != nil {
		t.Fatalf("expected no frames from partial push, got %d", len(frames))
	}
	if c.PendingBytes() != 1000 {
		t.Fatalf("PendingBytes() = %d, want 1000", c.PendingBytes())
	}

	frames := c.Push(make([]byte, 1000))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0]) != 1600 {
		t.Fatalf("frame size = %d, want 1600", len(frames[0]))
	}
	if c.PendingBytes() != 400 {
		t.Fatalf("leftover = %d, want 400", c.PendingBytes())
	}
}

func TestChunker_PreservesByteOrder(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	c := NewChunker(f, 100)

	src := make([]byte, 3500)
	for i := range src {
		src[i] = byte(i % 251)
	}

	var got []byte
	for _, frame := range c.Push(src) {
		got = append(got, frame...)
	}
	if tail := c.Flush(); tail != nil {
		got = append(got, tail[:3500-len(got)]...)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("chunked output does not match input byte order")
	}
	if c.PendingBytes() != 0 {
		t.Fatalf("PendingBytes() after Flush = %d, want 0", c.PendingBytes())
	}
}

func TestChunker_LargePushYieldsMultipleFrames(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	c := NewChunker(f, 100)

	frames := c.Push(make([]byte, 1600*3+10))
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if c.PendingBytes() != 10 {
		t.Fatalf("leftover = %d, want 10", c.PendingBytes())
	}

	c.Reset()
	if c.PendingBytes() != 0 {
		t.Fatal("Reset did not clear pending bytes")
	}
}

func TestResample_Identity(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	if out := Resample(in, 48000, 48000); !bytes.Equal(out, in) {
		t.Fatal("same-rate resample should return input unchanged")
	}
}

func TestResample_Upsample(t *testing.T) {
	// Constant signal stays constant through linear interpolation.
	in := make([]byte, 100*2)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(int16(1000)))
	}

	out := Resample(in, 8000, 16000)
	if len(out) != 200*2 {
		t.Fatalf("output = %d bytes, want %d", len(out), 200*2)
	}
	for i := 0; i < len(out)/2; i++ {
		if s := int16(binary.LittleEndian.Uint16(out[i*2:])); s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestResample_DownsampleLength(t *testing.T) {
	in := make([]byte, 480*2)
	out := Resample(in, 48000, 8000)
	if len(out) != 80*2 {
		t.Fatalf("output = %d bytes, want %d", len(out), 80*2)
	}
}
