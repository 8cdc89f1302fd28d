package transcript

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/logging"
)

// DefaultBufferSize is the read buffer used when ReadOptions leaves it unset.
const DefaultBufferSize = 32 * 1024

// Window is a 1-indexed page request.
type Window struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Validate checks page >= 1 and page_size >= 1, and that the window end plus
// the probe line fits in an int.
func (w Window) Validate() error {
	if w.Page < 1 {
		return errors.NewInvalidRequest(fmt.Sprintf("page must be >= 1, got %d", w.Page))
	}
	if w.PageSize < 1 {
		return errors.NewInvalidRequest(fmt.Sprintf("page_size must be >= 1, got %d", w.PageSize))
	}
	if w.Page > (math.MaxInt-1)/w.PageSize {
		return errors.NewInvalidRequest(fmt.Sprintf("page %d is out of range for page_size %d", w.Page, w.PageSize))
	}
	return nil
}

// Bounds returns the half-open record range [start, end) of the window.
func (w Window) Bounds() (start, end int) {
	start = (w.Page - 1) * w.PageSize
	return start, start + w.PageSize
}

// Page is one window of records plus whether anything follows it.
type Page struct {
	Records []Record `json:"records"`
	HasMore bool     `json:"has_more"`
}

// ReadOptions tunes ReadPage.
type ReadOptions struct {
	// Key names the resource in errors and logs.
	Key        string
	BufferSize int
	Logger     *slog.Logger
}

// ReadPage reads one window of records from rc without buffering the whole
// resource. Blank lines are not counted. Once the line after the window has
// been seen, rc is closed and nothing more is read; that probe line only sets
// HasMore. A final line with no newline counts only while the window is still
// open, so a probe that is such a line leaves HasMore false.
//
// ReadPage always closes rc. Read failures and context cancellation return a
// transcript retrieval error; there is no retry.
func ReadPage(ctx context.Context, rc io.ReadCloser, w Window, kind Kind, opts ReadOptions) (*Page, error) {
	closer := &onceCloser{rc: rc}
	defer closer.Close()

	if err := w.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrDiscard(opts.Logger)
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	// Unblock a pending Read when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
	defer stop()

	start, end := w.Bounds()
	br := bufio.NewReaderSize(rc, size)
	lines := make([]string, 0, w.PageSize)
	count := 0

	for {
		raw, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, errors.NewTranscriptRetrieval(opts.Key, err)
		}
		if err == io.EOF {
			if strings.TrimSpace(raw) != "" && count < end {
				if count >= start {
					lines = append(lines, decodeLine(raw))
				}
				count++
			}
			break
		}

		line := decodeLine(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if count >= start && count < end {
			lines = append(lines, line)
		}
		count++
		if count >= end+1 {
			_ = closer.Close()
			logger.Debug("transcript window satisfied, stream closed",
				"key", opts.Key, "page", w.Page, "page_size", w.PageSize)
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTranscriptRetrieval(opts.Key, err)
	}

	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		records = append(records, DecodeLine(line, kind))
	}
	return &Page{Records: records, HasMore: count > end}, nil
}

// decodeLine strips the line terminator and replaces invalid UTF-8.
// A newline byte never occurs inside a multi-byte sequence, so decoding
// whole lines is the same as decoding the stream incrementally.
func decodeLine(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	return strings.ToValidUTF8(raw, "\uFFFD")
}

// onceCloser makes Close idempotent and safe to call from the AfterFunc
// goroutine and the reading goroutine.
type onceCloser struct {
	rc   io.Closer
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.rc.Close() })
	return c.err
}
