package stream

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KevoDB/ordstream/pkg/stats"
	"github.com/KevoDB/ordstream/pkg/store"
	"github.com/KevoDB/ordstream/pkg/telemetry"
)

// PageStatus tells a caller how a page ended
type PageStatus int

const (
	// PageStatusOK means the page holds NumItems documents and more may follow
	PageStatusOK PageStatus = iota
	// PageStatusExhausted means the stream is drained
	PageStatusExhausted
	// PageStatusSplitRequired means the read budget ran out before the page
	// filled. The rest of the logical page starts at SplitCursor.
	PageStatusSplitRequired
)

// String returns the string representation of the page status
func (s PageStatus) String() string {
	switch s {
	case PageStatusOK:
		return "ok"
	case PageStatusExhausted:
		return "exhausted"
	case PageStatusSplitRequired:
		return "split_required"
	default:
		return fmt.Sprintf("PAGE_STATUS(%d)", int(s))
	}
}

// PaginateOptions configures one Paginate call. Zero NumItems and
// MaximumRowsRead fall back to the reader's defaults; a zero read budget
// means unbounded.
type PaginateOptions struct {
	NumItems        int
	Cursor          string
	MaximumRowsRead int
}

// PageResult is one page of a stream
type PageResult struct {
	Page           []*store.Document
	ContinueCursor string
	IsDone         bool
	PageStatus     PageStatus
	// SplitCursor is set only with PageStatusSplitRequired
	SplitCursor string
}

// Paginate returns the next page after opts.Cursor. It stops once NumItems
// documents matched, once MaximumRowsRead rows were inspected, or when the
// stream drains. A split page's cursors both name the gap after the last
// inspected row, so the follow-up call neither repeats nor skips a row.
func (b base) Paginate(ctx context.Context, opts PaginateOptions) (*PageResult, error) {
	s := b.self
	r := s.reader()

	numItems := opts.NumItems
	if numItems == 0 {
		numItems = r.defaultPageSize
	}
	maxRows := opts.MaximumRowsRead
	if maxRows == 0 {
		maxRows = r.defaultMaximumRowsRead
	}
	if numItems < 0 || maxRows < 0 {
		return nil, fmt.Errorf("%w: numItems=%d maximumRowsRead=%d", ErrInvalidPageSize, opts.NumItems, opts.MaximumRowsRead)
	}

	shape := s.shape()
	from, err := decodeCursor(shape, opts.Cursor)
	if err != nil {
		r.metrics.RecordInvalidCursor(ctx, "decode")
		r.stats.TrackError("invalid_cursor")
		r.logger.Warn("Rejected cursor: %v", err)
		return nil, err
	}

	ctx, span := r.tel.StartSpan(ctx, "ordstream.stream.paginate",
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStream),
		attribute.String(telemetry.AttrDirection, s.Direction().String()),
		attribute.Int("page.size", numItems),
		attribute.Int("page.max_rows_read", maxRows),
	)
	defer span.End()

	start := time.Now()
	res := &PageResult{Page: []*store.Document{}}
	last := from
	read := 0
	drained := true
	for e, err := range s.iterate(ctx, from, maxRows) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.metrics.RecordPageError(ctx, time.Since(start), err)
			r.stats.TrackError("paginate_error")
			return nil, err
		}

		read++
		last = e.pos
		if e.Doc != nil {
			res.Page = append(res.Page, e.Doc)
		}

		if len(res.Page) == numItems {
			res.PageStatus = PageStatusOK
			drained = false
			break
		}
		if maxRows > 0 && read >= maxRows {
			res.PageStatus = PageStatusSplitRequired
			drained = false
			break
		}
	}

	res.ContinueCursor = encodeCursor(shape, last, r.compressionThreshold)
	switch {
	case drained:
		res.PageStatus = PageStatusExhausted
		res.IsDone = true
	case res.PageStatus == PageStatusSplitRequired:
		res.SplitCursor = res.ContinueCursor
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrPageStatus, res.PageStatus.String()),
		attribute.Int("page.rows_read", read),
		attribute.Int("page.rows_returned", len(res.Page)),
	)
	elapsed := time.Since(start)
	r.metrics.RecordPage(ctx, elapsed, res.PageStatus, read, len(res.Page))
	r.stats.TrackOperationWithLatency(stats.OpPaginate, uint64(elapsed.Nanoseconds()))
	r.stats.TrackRows(uint64(read), uint64(len(res.Page)))
	if res.PageStatus == PageStatusSplitRequired {
		r.stats.TrackSplit()
	}
	r.logger.Debug("Page of %d documents after reading %d rows, status %s", len(res.Page), read, res.PageStatus)

	return res, nil
}
