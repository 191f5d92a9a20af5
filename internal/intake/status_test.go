package intake

import (
	"testing"

	"github.com/lingosum/intake/internal/model"
)

func newItem() *model.FileItem {
	return &model.FileItem{Handle: NewHandle(), Name: "doc.pdf", Status: model.ItemStatusReady}
}

func TestTracker_ProgressMonotonicInFlight(t *testing.T) {
	tr := NewTracker()
	item := newItem()

	tr.SetStatus(item, model.ItemStatusUploading, 40)
	tr.SetStatus(item, model.ItemStatusUploading, 20)
	if item.Progress != 40 {
		t.Errorf("expected progress to stay at 40, got %d", item.Progress)
	}

	tr.SetStatus(item, model.ItemStatusProcessing, 30)
	if item.Status != model.ItemStatusProcessing || item.Progress != 40 {
		t.Errorf("expected processing at 40, got %s at %d", item.Status, item.Progress)
	}
}

func TestTracker_ClampsProgress(t *testing.T) {
	tr := NewTracker()
	item := newItem()

	tr.SetStatus(item, model.ItemStatusUploading, 150)
	if item.Progress != 100 {
		t.Errorf("expected 100, got %d", item.Progress)
	}

	other := newItem()
	tr.SetStatus(other, model.ItemStatusReady, -5)
	if other.Progress != 0 {
		t.Errorf("expected 0, got %d", other.Progress)
	}
}

func TestTracker_ProgressUnchanged(t *testing.T) {
	tr := NewTracker()
	item := newItem()

	tr.SetStatus(item, model.ItemStatusUploading, 60)
	tr.SetStatus(item, model.ItemStatusProcessing, ProgressUnchanged)
	if item.Progress != 60 {
		t.Errorf("expected progress 60, got %d", item.Progress)
	}
}

func TestTracker_CompleteAndFail(t *testing.T) {
	tr := NewTracker()

	ok := newItem()
	tr.SetStatus(ok, model.ItemStatusUploading, 50)
	snap := tr.Complete(ok, "short version")
	if snap.Status != model.ItemStatusCompleted || snap.Progress != 100 || snap.Summary != "short version" {
		t.Errorf("unexpected completed snapshot: %+v", snap)
	}

	bad := newItem()
	tr.SetStatus(bad, model.ItemStatusUploading, 70)
	snap = tr.Fail(bad, "HTTP 500")
	if snap.Status != model.ItemStatusFailed || snap.Progress != 0 || snap.Error != "HTTP 500" {
		t.Errorf("unexpected failed snapshot: %+v", snap)
	}
}

func TestTracker_ResetClearsError(t *testing.T) {
	tr := NewTracker()
	item := newItem()

	tr.Fail(item, "boom")
	tr.SetStatus(item, model.ItemStatusReady, 0)
	if item.Error != "" || item.Status != model.ItemStatusReady {
		t.Errorf("expected clean ready item, got %+v", *item)
	}
}

func TestTracker_NotifiesSubscribers(t *testing.T) {
	tr := NewTracker()
	item := newItem()

	var updates []StatusUpdate
	unsubscribe := tr.Subscribe(func(u StatusUpdate) {
		updates = append(updates, u)
	})

	tr.SetStatus(item, model.ItemStatusUploading, 10)
	tr.Complete(item, "done")

	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Status != model.ItemStatusUploading || updates[0].Progress != 10 {
		t.Errorf("unexpected first update: %+v", updates[0])
	}
	if updates[1].Status != model.ItemStatusCompleted || updates[1].Handle != item.Handle {
		t.Errorf("unexpected second update: %+v", updates[1])
	}

	unsubscribe()
	tr.Fail(item, "late")
	if len(updates) != 2 {
		t.Errorf("expected no updates after unsubscribe, got %d", len(updates))
	}
}
