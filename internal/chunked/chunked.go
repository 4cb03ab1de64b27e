// Package chunked implements ranged uploads for backends that cap request
// size or assemble files from byte ranges: plan aligned chunks over a
// buffer, then send them strictly in increasing offset order.
package chunked

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orbitalfiles/orbital/internal/metrics"
)

// ErrMisaligned is returned when a chunk size is not a positive multiple
// of the backend alignment.
var ErrMisaligned = errors.New("chunked: chunk size is not a multiple of the alignment")

// Range is one chunk: the inclusive byte offsets [Start, End] of a file
// of Total bytes.
type Range struct {
	Index int
	Start int64
	End   int64
	Total int64
}

// Len is the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Last reports whether this is the final chunk.
func (r Range) Last() bool {
	return r.End == r.Total-1
}

// ContentRange renders the header value "bytes start-end/total".
func (r Range) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// Plan splits total bytes into chunks of chunkSize. All chunks but the last
// are exactly chunkSize; the last holds the remainder. Zero bytes yields
// no chunks.
func Plan(total, chunkSize, alignment int64) ([]Range, error) {
	if total < 0 {
		return nil, fmt.Errorf("chunked: negative total %d", total)
	}

	if alignment <= 0 || chunkSize <= 0 || chunkSize%alignment != 0 {
		return nil, fmt.Errorf("%w: size %d, alignment %d", ErrMisaligned, chunkSize, alignment)
	}

	n := (total + chunkSize - 1) / chunkSize
	ranges := make([]Range, 0, n)

	for i := range n {
		start := i * chunkSize
		end := min(start+chunkSize, total) - 1

		ranges = append(ranges, Range{Index: int(i), Start: start, End: end, Total: total})
	}

	return ranges, nil
}

// SendFunc delivers one chunk. body is exactly data[r.Start:r.End+1].
type SendFunc func(ctx context.Context, r Range, body []byte) error

// ChunkError reports which chunk failed.
type ChunkError struct {
	Range Range
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunked: chunk %d (%s) failed: %v", e.Range.Index, e.Range.ContentRange(), e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Uploader sends planned chunks.
type Uploader struct {
	ChunkSize int64
	Alignment int64
	Logger    *slog.Logger
}

// Upload sends data in order, stopping at the first failed chunk. Callers
// wrap send in the retry combinator so an expired token retries only the
// in-flight chunk. The context is checked between chunks.
func (u Uploader) Upload(ctx context.Context, data []byte, send SendFunc) error {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ranges, err := Plan(int64(len(data)), u.ChunkSize, u.Alignment)
	if err != nil {
		return err
	}

	logger.Debug("starting chunked upload",
		slog.Int("total_bytes", len(data)),
		slog.Int("chunks", len(ranges)),
		slog.Int64("chunk_size", u.ChunkSize),
	)

	for _, r := range ranges {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chunked: upload canceled: %w", ctxErr)
		}

		if sendErr := send(ctx, r, data[r.Start:r.End+1]); sendErr != nil {
			metrics.RecordChunk(r.Len(), false)
			logger.Warn("chunk upload failed",
				slog.Int("chunk", r.Index),
				slog.String("range", r.ContentRange()),
				slog.String("error", sendErr.Error()),
			)

			return &ChunkError{Range: r, Err: sendErr}
		}

		metrics.RecordChunk(r.Len(), true)
		logger.Debug("chunk accepted",
			slog.Int("chunk", r.Index),
			slog.String("range", r.ContentRange()),
		)
	}

	return nil
}

// AlignDown rounds size down to a multiple of alignment, never below one
// alignment unit. Used to normalize configured chunk sizes.
func AlignDown(size, alignment int64) int64 {
	if size < alignment {
		return alignment
	}

	return size - size%alignment
}
