package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/extract"
	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrBatchRunning    = errors.New("a batch is already running for this session")
	ErrItemExists      = errors.New("file already attached to a session")
)

// Notifier receives everything the UI renders: item status changes, batch
// results and notifications.
type Notifier interface {
	ItemStatus(sessionID string, update intake.StatusUpdate)
	BatchResult(sessionID string, result *model.RenderModel, final bool)
	Notify(sessionID string, level model.NotificationLevel, message string)
}

type nopNotifier struct{}

func (nopNotifier) ItemStatus(string, intake.StatusUpdate)         {}
func (nopNotifier) BatchResult(string, *model.RenderModel, bool)   {}
func (nopNotifier) Notify(string, model.NotificationLevel, string) {}

// Defaults are the summarization options used when a request leaves them out.
type Defaults struct {
	TargetLanguage     string
	Bounds             model.LengthBounds
	PreserveFormatting bool
}

// BatchOptions are the per-batch summarization options.
type BatchOptions struct {
	TargetLanguage     string
	Bounds             model.LengthBounds
	PreserveFormatting bool
	Mode               model.ProcessingMode
}

type session struct {
	id        string
	createdAt time.Time
	lastSeen  time.Time
	items     []*model.FileItem
	running   bool
	// queued is set while an async batch waits for a worker
	queued bool
}

// IntakeService owns intake sessions: the item list of each session, the
// registry associations of its items and the batches run over them.
type IntakeService struct {
	policy      *intake.ValidationPolicy
	registry    *intake.Registry
	tracker     *intake.Tracker
	coordinator *batch.Coordinator
	summarizer  client.Summarizer
	notifier    Notifier
	defaults    Defaults
	sessionTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	owners   map[model.Handle]string
}

// IntakeDeps groups the collaborators of an IntakeService.
type IntakeDeps struct {
	Policy      *intake.ValidationPolicy
	Registry    *intake.Registry
	Tracker     *intake.Tracker
	Coordinator *batch.Coordinator
	Summarizer  client.Summarizer
	Notifier    Notifier
	Defaults    Defaults
	SessionTTL  time.Duration
}

func NewIntakeService(deps IntakeDeps) *IntakeService {
	if deps.Policy == nil {
		deps.Policy = intake.DefaultPolicy()
	}
	if deps.Registry == nil {
		deps.Registry = intake.NewRegistry(intake.NewMemoryStore(), nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = intake.NewTracker()
	}
	if deps.Coordinator == nil {
		deps.Coordinator = batch.NewCoordinator(deps.Registry, deps.Tracker, batch.DefaultGroupSize)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Defaults.TargetLanguage == "" {
		deps.Defaults.TargetLanguage = string(model.LanguageEN)
	}
	if deps.Defaults.Bounds == (model.LengthBounds{}) {
		deps.Defaults.Bounds = model.DefaultLengthBounds
	}

	s := &IntakeService{
		policy:      deps.Policy,
		registry:    deps.Registry,
		tracker:     deps.Tracker,
		coordinator: deps.Coordinator,
		summarizer:  deps.Summarizer,
		notifier:    deps.Notifier,
		defaults:    deps.Defaults,
		sessionTTL:  deps.SessionTTL,
		sessions:    make(map[string]*session),
		owners:      make(map[model.Handle]string),
	}

	// Rendering is a subscriber of status changes.
	s.tracker.Subscribe(func(u intake.StatusUpdate) {
		if sessionID := s.ownerOf(u.Handle); sessionID != "" {
			s.notifier.ItemStatus(sessionID, u)
		}
	})

	return s
}

// MaxBytes is the per-file size limit of the validation policy.
func (s *IntakeService) MaxBytes() int64 {
	return s.policy.MaxBytes
}

// CreateSession opens a new, empty intake session.
func (s *IntakeService) CreateSession() *model.SessionResponse {
	now := time.Now()
	sess := &session{
		id:        uuid.New().String(),
		createdAt: now,
		lastSeen:  now,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return &model.SessionResponse{SessionID: sess.id, Items: []model.FileItem{}, CreatedAt: now}
}

// GetSession returns the session with a snapshot of every item.
func (s *IntakeService) GetSession(sessionID string) (*model.SessionResponse, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = time.Now()
	items := append([]*model.FileItem(nil), sess.items...)
	createdAt := sess.createdAt
	s.mu.Unlock()

	snaps := make([]model.FileItem, 0, len(items))
	for _, item := range items {
		snaps = append(snaps, s.tracker.Snapshot(item))
	}
	return &model.SessionResponse{SessionID: sessionID, Items: snaps, CreatedAt: createdAt}, nil
}

// CloseSession drops the session and releases every registry association it
// holds. In-flight remote calls are not aborted.
func (s *IntakeService) CloseSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	items := sess.items
	sess.items = nil
	for _, item := range items {
		delete(s.owners, item.Handle)
	}
	s.mu.Unlock()

	var errs []error
	for _, item := range items {
		if err := s.registry.Release(ctx, item.Handle); err != nil {
			errs = append(errs, err)
		}
	}

	utils.Zlog.Info("Session closed",
		zap.String("sessionId", sessionID),
		zap.Int("released", len(items)))
	return errors.Join(errs...)
}

// AddFiles validates every candidate and accepts the ones the policy allows.
// Rejections are reported per file, never as a call error.
func (s *IntakeService) AddFiles(ctx context.Context, sessionID string, candidates []*model.UploadCandidate) (*model.AddFilesResponse, error) {
	if !s.hasSession(sessionID) {
		return nil, ErrSessionNotFound
	}

	resp := &model.AddFilesResponse{
		Accepted: []model.FileItem{},
		Rejected: []model.RejectedFile{},
	}
	for _, c := range candidates {
		item, err := s.AddFile(ctx, sessionID, c)
		if err != nil {
			var rejection *intake.RejectionError
			if errors.As(err, &rejection) {
				resp.Rejected = append(resp.Rejected, model.RejectedFile{
					Name:   c.Name,
					Code:   string(rejection.Reason),
					Reason: rejection.Error(),
				})
				s.notifier.Notify(sessionID, model.NotificationWarning, rejection.Error())
				continue
			}
			return nil, err
		}
		resp.Accepted = append(resp.Accepted, *item)
	}
	return resp, nil
}

// AddFile validates one candidate and, when accepted, stores its payload and
// appends a ready item to the session.
func (s *IntakeService) AddFile(ctx context.Context, sessionID string, c *model.UploadCandidate) (*model.FileItem, error) {
	if !s.hasSession(sessionID) {
		return nil, ErrSessionNotFound
	}

	c.MimeType = intake.DetectMimeType(c.MimeType, c.Payload)
	if err := s.policy.Validate(c); err != nil {
		return nil, err
	}

	handle := intake.NewHandle()
	if err := s.registry.Associate(ctx, handle, c.Payload); err != nil {
		return nil, err
	}

	return s.appendItem(ctx, sessionID, handle, c)
}

// AttachShared adds an item whose payload was staged in the shared registry
// by another intake surface. The payload stays in the shared tier and is
// resolved through the registry fallback at dispatch time.
func (s *IntakeService) AttachShared(ctx context.Context, sessionID string, req *model.AttachSharedRequest) (*model.FileItem, error) {
	if !s.hasSession(sessionID) {
		return nil, ErrSessionNotFound
	}

	handle := model.Handle(req.Handle)
	if s.ownerOf(handle) != "" {
		return nil, ErrItemExists
	}

	payload, err := s.registry.Lookup(ctx, handle)
	if err != nil {
		if errors.Is(err, intake.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	c := &model.UploadCandidate{
		Name:     req.Name,
		Size:     int64(len(payload)),
		MimeType: intake.DetectMimeType(req.MimeType, payload),
		Payload:  payload,
	}
	if err := s.policy.Validate(c); err != nil {
		return nil, err
	}

	return s.appendItem(ctx, sessionID, handle, c)
}

// StageShared validates a candidate and stores it in the shared registry,
// returning the handle other surfaces use to attach it.
func (s *IntakeService) StageShared(ctx context.Context, c *model.UploadCandidate) (model.Handle, error) {
	c.MimeType = intake.DetectMimeType(c.MimeType, c.Payload)
	if err := s.policy.Validate(c); err != nil {
		return "", err
	}
	handle := intake.NewHandle()
	if err := s.registry.AssociateShared(ctx, handle, c.Payload); err != nil {
		return "", err
	}
	return handle, nil
}

func (s *IntakeService) appendItem(ctx context.Context, sessionID string, handle model.Handle, c *model.UploadCandidate) (*model.FileItem, error) {
	item := &model.FileItem{
		Handle:    handle,
		Name:      c.Name,
		Size:      c.Size,
		MimeType:  c.MimeType,
		Status:    model.ItemStatusReady,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		_ = s.registry.Release(ctx, handle)
		return nil, ErrSessionNotFound
	}
	// One item per handle: removing it releases the payload.
	if _, taken := s.owners[handle]; taken {
		s.mu.Unlock()
		return nil, ErrItemExists
	}
	sess.items = append(sess.items, item)
	sess.lastSeen = time.Now()
	s.owners[handle] = sess.id
	s.mu.Unlock()

	snap := s.tracker.SetStatus(item, model.ItemStatusReady, 0)
	return &snap, nil
}

// RemoveItem drops an item from its session and releases its payload. An
// in-flight batch keeps running; the removed item fails with "File not found"
// if it had not been dispatched yet.
func (s *IntakeService) RemoveItem(ctx context.Context, sessionID string, handle model.Handle) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	idx := -1
	for i, item := range sess.items {
		if item.Handle == handle {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	sess.items = append(sess.items[:idx:idx], sess.items[idx+1:]...)
	sess.lastSeen = time.Now()
	delete(s.owners, handle)
	s.mu.Unlock()

	return s.registry.Release(ctx, handle)
}

// PendingCount returns how many items the next batch would submit.
func (s *IntakeService) PendingCount(sessionID string) (int, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrSessionNotFound
	}
	items := append([]*model.FileItem(nil), sess.items...)
	s.mu.Unlock()

	n := 0
	for _, item := range items {
		if isPending(s.tracker.Snapshot(item).Status) {
			n++
		}
	}
	return n, nil
}

// ResolveOptions fills unset options with the service defaults.
func (s *IntakeService) ResolveOptions(opts BatchOptions) BatchOptions {
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = s.defaults.TargetLanguage
	}
	if opts.Bounds.Min <= 0 {
		opts.Bounds.Min = s.defaults.Bounds.Min
	}
	if opts.Bounds.Max <= 0 {
		opts.Bounds.Max = s.defaults.Bounds.Max
	}
	if opts.Bounds.Min > opts.Bounds.Max {
		opts.Bounds.Min = opts.Bounds.Max
	}
	if opts.Mode == "" {
		opts.Mode = model.ProcessingModeCombined
	}
	return opts
}

// ReserveBatch marks the session busy while an async batch waits in the
// queue, so it is neither swept nor given a second batch.
func (s *IntakeService) ReserveBatch(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.running || sess.queued {
		return ErrBatchRunning
	}
	sess.queued = true
	sess.lastSeen = time.Now()
	return nil
}

// CancelReservation undoes ReserveBatch when the batch could not be queued.
func (s *IntakeService) CancelReservation(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.queued = false
	}
}

// RunBatch submits every ready or failed item of the session and blocks until
// the batch settles. Failed items are reset to ready first; completed items
// are not submitted again. With zero successes the render model is returned
// together with a *batch.AggregateError.
func (s *IntakeService) RunBatch(ctx context.Context, sessionID string, opts BatchOptions) (*model.RenderModel, error) {
	return s.runBatch(ctx, sessionID, opts, false)
}

// RunQueuedBatch runs the batch reserved with ReserveBatch.
func (s *IntakeService) RunQueuedBatch(ctx context.Context, sessionID string, opts BatchOptions) (*model.RenderModel, error) {
	return s.runBatch(ctx, sessionID, opts, true)
}

func (s *IntakeService) runBatch(ctx context.Context, sessionID string, opts BatchOptions, reserved bool) (*model.RenderModel, error) {
	opts = s.ResolveOptions(opts)

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if reserved {
		sess.queued = false
	}
	if sess.running || sess.queued {
		s.mu.Unlock()
		return nil, ErrBatchRunning
	}
	sess.running = true
	sess.lastSeen = time.Now()
	all := append([]*model.FileItem(nil), sess.items...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		sess.running = false
		s.mu.Unlock()
	}()

	items := make([]*model.FileItem, 0, len(all))
	for _, item := range all {
		status := s.tracker.Snapshot(item).Status
		if !isPending(status) {
			continue
		}
		if status == model.ItemStatusFailed {
			s.tracker.SetStatus(item, model.ItemStatusReady, 0)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		s.notifier.Notify(sessionID, model.NotificationWarning, "Please select files to process")
		return nil, batch.ErrEmptyBatch
	}

	req := &model.BatchRequest{
		Items:              items,
		GroupSize:          s.coordinator.GroupSize(),
		TargetLanguage:     opts.TargetLanguage,
		Bounds:             opts.Bounds,
		PreserveFormatting: opts.PreserveFormatting,
		Mode:               opts.Mode,
	}

	var runOpts []batch.RunOption
	if opts.Mode == model.ProcessingModeStream {
		runOpts = append(runOpts, batch.WithOnSettled(s.streamTo(sessionID)))
	}

	utils.Zlog.Info("Batch started",
		zap.String("sessionId", sessionID),
		zap.Int("items", len(items)),
		zap.String("mode", string(opts.Mode)),
		zap.String("language", opts.TargetLanguage))

	result, err := s.coordinator.Run(ctx, req, s.upload, runOpts...)
	if result == nil {
		s.notifier.Notify(sessionID, model.NotificationError, err.Error())
		return nil, err
	}

	rm := batch.Aggregate(result)
	s.notifier.BatchResult(sessionID, rm, true)

	switch {
	case err != nil:
		s.notifier.Notify(sessionID, model.NotificationError, fmt.Sprintf("Processing failed: %v", err))
		return rm, err
	case rm.Failed > 0:
		s.notifier.Notify(sessionID, model.NotificationWarning, rm.Message)
	default:
		s.notifier.Notify(sessionID, model.NotificationSuccess, rm.Message)
	}
	return rm, nil
}

// streamTo publishes a partial render model each time an item succeeds.
func (s *IntakeService) streamTo(sessionID string) func(batch.Outcome) {
	var settled []batch.Outcome
	return func(o batch.Outcome) {
		settled = append(settled, o)
		if !o.Succeeded() {
			return
		}

		ordered := append([]batch.Outcome(nil), settled...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

		partial := &model.BatchResult{}
		for _, so := range ordered {
			if so.Succeeded() {
				partial.Successes = append(partial.Successes, model.ItemSuccess{Item: so.Item, Summary: so.Summary})
			} else {
				partial.Failures = append(partial.Failures, model.ItemFailure{Item: so.Item, Error: so.Err.Error()})
			}
		}
		s.notifier.BatchResult(sessionID, batch.Aggregate(partial), false)
	}
}

// upload is the coordinator's remote call: POST /upload with progress, plus a
// local word count when the service does not report one.
func (s *IntakeService) upload(ctx context.Context, d *batch.Dispatch) (*model.SummaryPayload, error) {
	if s.summarizer == nil {
		return nil, errors.New("summarization service not configured")
	}

	resp, err := s.summarizer.UploadFile(ctx, &client.FileRequest{
		Filename:           d.Name,
		MimeType:           d.MimeType,
		Content:            d.Payload,
		TargetLanguage:     d.TargetLanguage,
		MaxLength:          d.Bounds.Max,
		MinLength:          d.Bounds.Min,
		PreserveFormatting: d.PreserveFormatting,
		Progress: func(sent, total int64) {
			if total > 0 {
				d.Progress(int(sent * 100 / total))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	if resp.OriginalLength == nil && resp.OriginalText == "" {
		if words, err := extract.WordCount(ctx, d.Name, d.MimeType, d.Payload); err == nil && words > 0 {
			resp.OriginalLength = &words
		} else if err != nil && !errors.Is(err, extract.ErrUnsupported) {
			utils.Zlog.Debug("Local word count failed", zap.String("file", d.Name), zap.Error(err))
		}
	}
	return resp, nil
}

// SweepExpired closes sessions idle for longer than the session TTL.
func (s *IntakeService) SweepExpired(ctx context.Context, now time.Time) int {
	if s.sessionTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if !sess.running && !sess.queued && now.Sub(sess.lastSeen) > s.sessionTTL {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if err := s.CloseSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			utils.Zlog.Warn("Failed to close expired session", zap.String("sessionId", id), zap.Error(err))
		}
	}
	return len(expired)
}

// StartJanitor sweeps expired sessions every interval until ctx is done.
func (s *IntakeService) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.SweepExpired(ctx, now); n > 0 {
					utils.Zlog.Info("Expired sessions closed", zap.Int("count", n))
				}
			}
		}
	}()
}

func (s *IntakeService) hasSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

func (s *IntakeService) ownerOf(handle model.Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[handle]
}

func isPending(status model.ItemStatus) bool {
	return status == model.ItemStatusReady || status == model.ItemStatusFailed
}
