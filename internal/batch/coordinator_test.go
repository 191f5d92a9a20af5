package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
)

type fixture struct {
	registry *intake.Registry
	tracker  *intake.Tracker
	coord    *Coordinator
	items    []*model.FileItem
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		registry: intake.NewRegistry(intake.NewMemoryStore(), nil),
		tracker:  intake.NewTracker(),
	}
	f.coord = NewCoordinator(f.registry, f.tracker, DefaultGroupSize)

	for i := 0; i < n; i++ {
		item := &model.FileItem{
			Handle:   intake.NewHandle(),
			Name:     fmt.Sprintf("file-%d.txt", i),
			MimeType: "text/plain",
			Status:   model.ItemStatusReady,
		}
		if err := f.registry.Associate(ctx, item.Handle, []byte(fmt.Sprintf("content of file %d", i))); err != nil {
			t.Fatalf("associate failed: %v", err)
		}
		f.items = append(f.items, item)
	}
	return f
}

func (f *fixture) request() *model.BatchRequest {
	return &model.BatchRequest{
		Items:          f.items,
		TargetLanguage: "en",
		Bounds:         model.DefaultLengthBounds,
		Mode:           model.ProcessingModeCombined,
	}
}

func summaryFor(d *Dispatch) *model.SummaryPayload {
	return &model.SummaryPayload{Filename: d.Name, Summary: "summary of " + d.Name}
}

func TestRun_BoundedConcurrencyWithGroupBarrier(t *testing.T) {
	f := newFixture(t, 7)

	var inFlight, maxInFlight, settled int32
	var mu sync.Mutex
	violations := []string{}

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		var index int
		fmt.Sscanf(d.Name, "file-%d.txt", &index)

		// Every item of earlier groups must have settled before this one starts.
		if done := atomic.LoadInt32(&settled); int(done) < (index/3)*3 {
			mu.Lock()
			violations = append(violations, fmt.Sprintf("item %d started with only %d settled", index, done))
			mu.Unlock()
		}

		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&settled, 1)
		return summaryFor(d), nil
	}

	result, err := f.coord.Run(context.Background(), f.request(), upload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if maxInFlight > 3 {
		t.Errorf("expected at most 3 in flight, got %d", maxInFlight)
	}
	if maxInFlight < 2 {
		t.Errorf("expected items of a group to run concurrently, max in flight %d", maxInFlight)
	}
	for _, v := range violations {
		t.Error(v)
	}
	if len(result.Successes) != 7 || len(result.Failures) != 0 {
		t.Errorf("expected 7 successes, got %d/%d", len(result.Successes), len(result.Failures))
	}
}

func TestRun_FailureIsolatedWithinGroup(t *testing.T) {
	f := newFixture(t, 3)

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		if d.Name == "file-1.txt" {
			return nil, errors.New("HTTP 500")
		}
		return summaryFor(d), nil
	}

	result, err := f.coord.Run(context.Background(), f.request(), upload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Successes) != 2 || len(result.Failures) != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", len(result.Successes), len(result.Failures))
	}
	if result.Successes[0].Item.Name != "file-0.txt" || result.Successes[1].Item.Name != "file-2.txt" {
		t.Errorf("expected successes in original order, got %s, %s",
			result.Successes[0].Item.Name, result.Successes[1].Item.Name)
	}
	if result.Failures[0].Error != "HTTP 500" {
		t.Errorf("expected failure reason HTTP 500, got %q", result.Failures[0].Error)
	}

	if f.items[1].Status != model.ItemStatusFailed || f.items[1].Progress != 0 {
		t.Errorf("expected failed item at 0, got %s at %d", f.items[1].Status, f.items[1].Progress)
	}
	for _, i := range []int{0, 2} {
		if f.items[i].Status != model.ItemStatusCompleted || f.items[i].Progress != 100 {
			t.Errorf("expected item %d completed at 100, got %s at %d", i, f.items[i].Status, f.items[i].Progress)
		}
	}
}

func TestRun_AllFailedReturnsAggregateError(t *testing.T) {
	f := newFixture(t, 4)

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		return nil, errors.New("Validation error: text too short")
	}

	result, err := f.coord.Run(context.Background(), f.request(), upload)
	if !errors.Is(err, ErrAggregateFailure) {
		t.Fatalf("expected aggregate failure, got %v", err)
	}

	var aggErr *AggregateError
	if !errors.As(err, &aggErr) || aggErr.Total != 4 {
		t.Errorf("expected *AggregateError with 4 failures, got %v", err)
	}
	if result == nil || len(result.Failures) != 4 {
		t.Fatal("expected result with every failure alongside the error")
	}
	for _, item := range f.items {
		if item.Status != model.ItemStatusFailed {
			t.Errorf("expected %s failed, got %s", item.Name, item.Status)
		}
	}
}

func TestRun_RegistryMissMidBatch(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	removed := f.items[4]

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		if d.Name == "file-0.txt" {
			// Removed while the first group is in flight.
			_ = f.registry.Release(ctx, removed.Handle)
		}
		return summaryFor(d), nil
	}

	result, err := f.coord.Run(ctx, f.request(), upload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failures))
	}
	if result.Failures[0].Item != removed || result.Failures[0].Error != MessageFileNotFound {
		t.Errorf("expected %s to fail with %q, got %q", removed.Name, MessageFileNotFound, result.Failures[0].Error)
	}
	if removed.Error != MessageFileNotFound {
		t.Errorf("expected item error %q, got %q", MessageFileNotFound, removed.Error)
	}
}

func TestRun_OnSettledStreamsEveryOutcome(t *testing.T) {
	f := newFixture(t, 5)

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		if d.Name == "file-3.txt" {
			return nil, errors.New("boom")
		}
		return summaryFor(d), nil
	}

	var mu sync.Mutex
	seen := map[int]bool{}
	var successes int
	onSettled := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[o.Index] = true
		if o.Succeeded() {
			successes++
			if o.Summary == nil {
				t.Errorf("expected summary for item %d", o.Index)
			}
		}
	}

	if _, err := f.coord.Run(context.Background(), f.request(), upload, WithOnSettled(onSettled)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(seen) != 5 {
		t.Errorf("expected 5 settled outcomes, got %d", len(seen))
	}
	if successes != 4 {
		t.Errorf("expected 4 successes, got %d", successes)
	}
}

func TestRun_TerminalItemsNotRedispatched(t *testing.T) {
	f := newFixture(t, 3)
	f.tracker.Complete(f.items[0], "earlier summary")

	var calls int32
	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		atomic.AddInt32(&calls, 1)
		return summaryFor(d), nil
	}

	result, err := f.coord.Run(context.Background(), f.request(), upload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 remote calls, got %d", calls)
	}
	if len(result.Successes) != 3 || result.Successes[0].Summary.Summary != "earlier summary" {
		t.Errorf("expected completed item passed through with its summary")
	}
}

func TestRun_PanicBecomesItemFailure(t *testing.T) {
	f := newFixture(t, 2)

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		if d.Name == "file-0.txt" {
			panic("decoder exploded")
		}
		return summaryFor(d), nil
	}

	result, err := f.coord.Run(context.Background(), f.request(), upload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failures) != 1 || f.items[0].Status != model.ItemStatusFailed {
		t.Errorf("expected panicking item to fail, got %+v", *f.items[0])
	}
	if f.items[1].Status != model.ItemStatusCompleted {
		t.Errorf("expected sibling to complete, got %s", f.items[1].Status)
	}
}

func TestRun_CancelledContextFailsUndispatched(t *testing.T) {
	f := newFixture(t, 6)
	ctx, cancel := context.WithCancel(context.Background())

	var started int32
	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		atomic.AddInt32(&started, 1)
		if d.Name == "file-0.txt" {
			for atomic.LoadInt32(&started) < 3 {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}
		return summaryFor(d), nil
	}

	result, _ := f.coord.Run(ctx, f.request(), upload)

	if len(result.Successes) != 3 {
		t.Errorf("expected the first group to finish, got %d successes", len(result.Successes))
	}
	for _, item := range f.items[3:] {
		if item.Status != model.ItemStatusFailed {
			t.Errorf("expected %s to fail after cancel, got %s", item.Name, item.Status)
		}
	}
}

func TestRun_ProgressMapping(t *testing.T) {
	f := newFixture(t, 1)
	item := f.items[0]

	var observed []model.FileItem
	f.tracker.Subscribe(func(u intake.StatusUpdate) {
		observed = append(observed, model.FileItem{Status: u.Status, Progress: u.Progress})
	})

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		d.Progress(50)
		d.Progress(100)
		return summaryFor(d), nil
	}

	if _, err := f.coord.Run(context.Background(), f.request(), upload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.FileItem{
		{Status: model.ItemStatusUploading, Progress: 0},
		{Status: model.ItemStatusUploading, Progress: 45},
		{Status: model.ItemStatusProcessing, Progress: 90},
		{Status: model.ItemStatusCompleted, Progress: 100},
	}
	if len(observed) != len(want) {
		t.Fatalf("expected %d updates, got %d: %+v", len(want), len(observed), observed)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("update %d: expected %s/%d, got %s/%d", i,
				want[i].Status, want[i].Progress, observed[i].Status, observed[i].Progress)
		}
	}
	if item.Summary != "summary of file-0.txt" {
		t.Errorf("expected summary recorded on item, got %q", item.Summary)
	}
}

func TestRun_DispatchesInGroupsOfThree(t *testing.T) {
	f := newFixture(t, 7)

	started := make(chan struct{}, 7)
	release := make(chan struct{})

	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		started <- struct{}{}
		<-release
		return summaryFor(d), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Run(context.Background(), f.request(), upload)
		done <- err
	}()

	// Each wave is every start seen until the dispatcher goes quiet; the
	// wave is then released so the next group may begin.
	var waves []int
	for total := 0; total < 7; {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for dispatch, waves so far %v", waves)
		}
		n := 1
		for quiet := false; !quiet; {
			select {
			case <-started:
				n++
			case <-time.After(100 * time.Millisecond):
				quiet = true
			}
		}
		waves = append(waves, n)
		total += n
		for i := 0; i < n; i++ {
			release <- struct{}{}
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{3, 3, 1}
	if fmt.Sprint(waves) != fmt.Sprint(want) {
		t.Errorf("expected dispatch waves %v, got %v", want, waves)
	}
}

func TestRun_LateProgressIgnoredAfterSettle(t *testing.T) {
	f := newFixture(t, 2)

	progress := make(map[string]func(int))
	var mu sync.Mutex
	upload := func(ctx context.Context, d *Dispatch) (*model.SummaryPayload, error) {
		mu.Lock()
		progress[d.Name] = d.Progress
		mu.Unlock()
		if d.Name == "file-1.txt" {
			return nil, errors.New("HTTP 413")
		}
		return summaryFor(d), nil
	}

	if _, err := f.coord.Run(context.Background(), f.request(), upload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The transport may still report body progress after the response.
	for _, report := range progress {
		report(40)
		report(100)
	}

	done, failed := f.items[0], f.items[1]
	if done.Status != model.ItemStatusCompleted || done.Progress != 100 || done.Summary != "summary of file-0.txt" {
		t.Errorf("expected completed item untouched, got %s/%d %q", done.Status, done.Progress, done.Summary)
	}
	if failed.Status != model.ItemStatusFailed || failed.Progress != 0 || failed.Error != "HTTP 413" {
		t.Errorf("expected failed item untouched, got %s/%d %q", failed.Status, failed.Progress, failed.Error)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	c := NewCoordinator(intake.NewRegistry(nil, nil), nil, 0)

	if c.GroupSize() != DefaultGroupSize {
		t.Errorf("expected default group size, got %d", c.GroupSize())
	}
	if _, err := c.Run(context.Background(), &model.BatchRequest{}, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}
