package audio

import (
	"bytes"
	"testing"
)

func TestChunkExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF}, 320)
	var frames [][]byte
	for f := range Chunk(data, 160) {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f) != 160 {
			t.Errorf("expected frame of 160 bytes, got %d", len(f))
		}
	}
}

func TestChunkShortTrailingFrameNotDropped(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 170)
	frames := ChunkSlice(data, 160)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if len(frames[1]) != 10 {
		t.Fatalf("expected trailing frame of 10 bytes, got %d", len(frames[1]))
	}
}

func TestChunkEmptyInput(t *testing.T) {
	frames := ChunkSlice(nil, 160)
	if len(frames) != 0 {
		t.Fatalf("expected no frames for empty input, got %d", len(frames))
	}
}

func TestChunkStopsEarlyWhenYieldReturnsFalse(t *testing.T) {
	data := bytes.Repeat([]byte{0x02}, 800)
	count := 0
	for range Chunk(data, 160) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected iteration to stop at 2, got %d", count)
	}
}

func TestChunkPanicsOnNonPositiveFrameSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive frameSize")
		}
	}()
	for range Chunk([]byte{1, 2, 3}, 0) {
	}
}
