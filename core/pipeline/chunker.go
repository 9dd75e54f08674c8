package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkConfig is returned for a window size or overlap that cannot advance.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// SlidingWindowChunker creates a chunker with fixed-size overlapping windows.
// Window i covers runes [i*(size-overlap), i*(size-overlap)+size), clipped to the text.
// Windows of minSize runes or fewer are dropped.
func SlidingWindowChunker(size int, overlap int, minSize int) ChunkFunc {
	return func(text string) ([]TextChunk, error) {
		if size <= 0 {
			return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunkConfig, size)
		}
		if overlap < 0 || overlap >= size {
			return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidChunkConfig, size, overlap)
		}

		runes := []rune(text)
		step := size - overlap

		chunks := []TextChunk{}
		for start := 0; start < len(runes); start += step {
			end := min(start+size, len(runes))
			if end-start <= minSize {
				continue
			}
			chunks = append(chunks, TextChunk{
				Content:  string(runes[start:end]),
				Index:    len(chunks),
				StartPos: start,
				EndPos:   end,
			})
		}

		return chunks, nil
	}
}
