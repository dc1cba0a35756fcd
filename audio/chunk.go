// Package audio provides the raw byte-framing primitives shared by the
// telephony TTS adapter and the media-stream bridge. All audio handled by
// voicebridge is mu-law / 8kHz / mono; this package never re-encodes or
// resamples, it only chunks.
package audio

import "iter"

// DefaultFrameSize is 160 bytes of mu-law, i.e. 20ms at 8kHz mono.
const DefaultFrameSize = 160

// Chunk splits data into fixed-size frames, yielding them in order. The
// final frame may be shorter than frameSize but is never dropped. frameSize
// must be positive; Chunk panics otherwise, since a non-positive frame size
// is always a caller bug, never recoverable input.
func Chunk(data []byte, frameSize int) iter.Seq[[]byte] {
	if frameSize <= 0 {
		panic("audio: frameSize must be positive")
	}
	return func(yield func([]byte) bool) {
		for start := 0; start < len(data); start += frameSize {
			end := start + frameSize
			if end > len(data) {
				end = len(data)
			}
			if !yield(data[start:end]) {
				return
			}
		}
	}
}

// ChunkSlice is the eager equivalent of Chunk, for callers that need a
// concrete slice (e.g. to count frames before pacing playback).
func ChunkSlice(data []byte, frameSize int) [][]byte {
	frames := make([][]byte, 0, (len(data)+frameSize-1)/frameSize)
	for f := range Chunk(data, frameSize) {
		frames = append(frames, f)
	}
	return frames
}
