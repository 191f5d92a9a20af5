// Package batch drives sets of intake items through the remote summarization
// call in fixed-size concurrent groups and turns the settled outcomes into a
// render model.
//
// Groups run one after another. Every item of a group is dispatched at the
// same time and the next group starts only once all of them have settled, so
// no more than the group size of remote calls is ever in flight. Items fail
// independently: an error is recorded on the item and never cancels siblings
// or later groups.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/utils"
)

// DefaultGroupSize is the number of items dispatched concurrently.
const DefaultGroupSize = 3

// MessageFileNotFound is the failure reason for items whose payload is gone.
const MessageFileNotFound = "File not found"

// uploadShare is the progress reached once the request body is fully sent;
// the rest belongs to remote processing.
const uploadShare = 90

var (
	// ErrEmptyBatch is returned when there is nothing to process.
	ErrEmptyBatch = errors.New("no files to process")
	// ErrAggregateFailure is matched by every *AggregateError.
	ErrAggregateFailure = errors.New("no files were processed successfully")
)

// AggregateError is returned when a whole batch settles without a success.
type AggregateError struct {
	Total    int
	Failures []model.ItemFailure
}

func (e *AggregateError) Error() string {
	if e.Total == 1 {
		return "the file failed to process"
	}
	return fmt.Sprintf("all %d files failed to process", e.Total)
}

func (e *AggregateError) Unwrap() error {
	return ErrAggregateFailure
}

// PayloadSource resolves an item's payload at dispatch time.
type PayloadSource interface {
	Lookup(ctx context.Context, handle model.Handle) ([]byte, error)
}

// Dispatch is everything the upload operation needs for one item.
type Dispatch struct {
	Handle             model.Handle
	Name               string
	MimeType           string
	Payload            []byte
	TargetLanguage     string
	Bounds             model.LengthBounds
	PreserveFormatting bool
	// Progress reports the share of the request body sent, 0-100.
	Progress func(percent int)
}

// UploadFunc performs the remote call for one item.
type UploadFunc func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error)

// Outcome is the settled result of one item.
type Outcome struct {
	Index   int
	Item    *model.FileItem
	Summary *model.SummaryPayload
	Err     error
}

// Succeeded reports whether the item completed.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

type runOptions struct {
	onSettled func(Outcome)
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

// WithOnSettled registers fn to receive every outcome as soon as its item
// settles. Calls are serialized; order follows completion, not item order.
func WithOnSettled(fn func(Outcome)) RunOption {
	return func(o *runOptions) {
		o.onSettled = fn
	}
}

// Coordinator runs batches.
type Coordinator struct {
	payloads  PayloadSource
	tracker   *intake.Tracker
	groupSize int
}

// NewCoordinator creates a coordinator. groupSize below 1 means DefaultGroupSize.
func NewCoordinator(payloads PayloadSource, tracker *intake.Tracker, groupSize int) *Coordinator {
	if groupSize < 1 {
		groupSize = DefaultGroupSize
	}
	if tracker == nil {
		tracker = intake.NewTracker()
	}
	return &Coordinator{
		payloads:  payloads,
		tracker:   tracker,
		groupSize: groupSize,
	}
}

// GroupSize returns the coordinator's default group size.
func (c *Coordinator) GroupSize() int {
	return c.groupSize
}

// Run processes req.Items and returns the settled result. When no item
// succeeds the result is still returned, together with an *AggregateError.
func (c *Coordinator) Run(ctx context.Context, req *model.BatchRequest, upload UploadFunc, opts ...RunOption) (*model.BatchResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyBatch
	}

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	groupSize := req.GroupSize
	if groupSize < 1 {
		groupSize = c.groupSize
	}

	started := time.Now()
	outcomes := make([]Outcome, len(req.Items))
	var settleMu sync.Mutex

	for start := 0; start < len(req.Items); start += groupSize {
		end := start + groupSize
		if end > len(req.Items) {
			end = len(req.Items)
		}

		utils.Zlog.Debug("Dispatching group",
			zap.Int("from", start),
			zap.Int("to", end-1),
			zap.Int("items", len(req.Items)))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcome := c.dispatch(ctx, i, req, upload)
				outcomes[i] = outcome

				if ro.onSettled != nil {
					settleMu.Lock()
					ro.onSettled(outcome)
					settleMu.Unlock()
				}
			}(i)
		}
		wg.Wait()
	}

	result := &model.BatchResult{}
	for _, o := range outcomes {
		if o.Succeeded() {
			result.Successes = append(result.Successes, model.ItemSuccess{Item: o.Item, Summary: o.Summary})
		} else {
			result.Failures = append(result.Failures, model.ItemFailure{Item: o.Item, Error: o.Err.Error()})
		}
	}

	utils.Zlog.Info("Batch settled",
		zap.Int("processed", len(result.Successes)),
		zap.Int("failed", len(result.Failures)),
		zap.Int("groupSize", groupSize),
		zap.Duration("elapsed", time.Since(started)))

	if len(result.Successes) == 0 {
		return result, &AggregateError{Total: len(result.Failures), Failures: result.Failures}
	}
	return result, nil
}

// dispatch settles a single item. It never panics and never returns without
// the item being terminal.
func (c *Coordinator) dispatch(ctx context.Context, index int, req *model.BatchRequest, upload UploadFunc) (outcome Outcome) {
	item := req.Items[index]
	outcome = Outcome{Index: index, Item: item}

	// Progress reports may arrive after the upload returned; once the item
	// settled they are ignored.
	var progressMu sync.Mutex
	settled := false
	settle := func() {
		progressMu.Lock()
		settled = true
		progressMu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			settle()
			outcome.Summary = nil
			outcome.Err = fmt.Errorf("upload panicked: %v", r)
			c.tracker.Fail(item, outcome.Err.Error())
		}
	}()

	// Terminal items are reported as they are and never dispatched again.
	snap := c.tracker.Snapshot(item)
	switch snap.Status {
	case model.ItemStatusCompleted:
		outcome.Summary = &model.SummaryPayload{Filename: snap.Name, Summary: snap.Summary}
		return outcome
	case model.ItemStatusFailed:
		outcome.Err = errors.New(snap.Error)
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		c.tracker.Fail(item, err.Error())
		return outcome
	}

	c.tracker.SetStatus(item, model.ItemStatusUploading, 0)

	payload, err := c.payloads.Lookup(ctx, item.Handle)
	if err != nil {
		if errors.Is(err, intake.ErrNotFound) {
			outcome.Err = errors.New(MessageFileNotFound)
		} else {
			outcome.Err = err
		}
		utils.Zlog.Warn("Payload lookup failed",
			zap.String("handle", string(item.Handle)),
			zap.String("file", snap.Name),
			zap.Error(err))
		c.tracker.Fail(item, outcome.Err.Error())
		return outcome
	}

	d := &Dispatch{
		Handle:             item.Handle,
		Name:               snap.Name,
		MimeType:           snap.MimeType,
		Payload:            payload,
		TargetLanguage:     req.TargetLanguage,
		Bounds:             req.Bounds,
		PreserveFormatting: req.PreserveFormatting,
		Progress: func(percent int) {
			progressMu.Lock()
			defer progressMu.Unlock()
			if settled {
				return
			}
			if percent >= 100 {
				c.tracker.SetStatus(item, model.ItemStatusProcessing, uploadShare)
				return
			}
			c.tracker.SetStatus(item, model.ItemStatusUploading, percent*uploadShare/100)
		},
	}

	summary, err := upload(ctx, d)
	settle()
	if err == nil && summary == nil {
		err = errors.New("empty response from summarization service")
	}
	if err != nil {
		utils.Zlog.Warn("Item failed",
			zap.String("handle", string(item.Handle)),
			zap.String("file", snap.Name),
			zap.Error(err))
		outcome.Err = err
		c.tracker.Fail(item, err.Error())
		return outcome
	}

	outcome.Summary = summary
	c.tracker.Complete(item, summary.Summary)
	return outcome
}
