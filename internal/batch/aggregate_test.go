package batch

import (
	"strings"
	"testing"

	"github.com/lingosum/intake/internal/model"
)

func intPtr(v int) *int { return &v }

func TestAggregate_PreservesOrderAndCounts(t *testing.T) {
	a := &model.FileItem{Handle: "a", Name: "alpha.pdf"}
	b := &model.FileItem{Handle: "b", Name: "beta.txt"}
	c := &model.FileItem{Handle: "c", Name: "gamma.png"}

	rm := Aggregate(&model.BatchResult{
		Successes: []model.ItemSuccess{
			{Item: a, Summary: &model.SummaryPayload{Summary: "first"}},
			{Item: c, Summary: &model.SummaryPayload{Summary: "third"}},
		},
		Failures: []model.ItemFailure{
			{Item: b, Error: "HTTP 502"},
		},
	})

	if rm.Processed != 2 || rm.Failed != 1 || rm.Total != 3 {
		t.Errorf("unexpected counts: %d/%d/%d", rm.Processed, rm.Failed, rm.Total)
	}
	if rm.Message != "2 of 3 files processed" {
		t.Errorf("unexpected message %q", rm.Message)
	}
	if rm.Blocks[0].Filename != "alpha.pdf" || rm.Blocks[1].Filename != "gamma.png" {
		t.Errorf("expected blocks in original order, got %s, %s", rm.Blocks[0].Filename, rm.Blocks[1].Filename)
	}
	if rm.Failures[0].Filename != "beta.txt" || rm.Failures[0].Error != "HTTP 502" {
		t.Errorf("unexpected failure block %+v", rm.Failures[0])
	}

	want := "### alpha.pdf\n\nfirst\n\n### gamma.png\n\nthird"
	if rm.Combined != want {
		t.Errorf("unexpected combined text:\n%s", rm.Combined)
	}
	if strings.Index(rm.Combined, "alpha.pdf") > strings.Index(rm.Combined, "gamma.png") {
		t.Error("expected alpha before gamma")
	}
}

func TestAggregate_TotalsStats(t *testing.T) {
	rm := Aggregate(&model.BatchResult{
		Successes: []model.ItemSuccess{
			{Item: &model.FileItem{Name: "a"}, Summary: &model.SummaryPayload{Summary: "x", OriginalLength: intPtr(60), SummaryLength: intPtr(20)}},
			{Item: &model.FileItem{Name: "b"}, Summary: &model.SummaryPayload{Summary: "y", OriginalLength: intPtr(40), SummaryLength: intPtr(10)}},
		},
	})

	if rm.Stats == nil {
		t.Fatal("expected totals stats")
	}
	if rm.Stats.OriginalWords != 100 || rm.Stats.SummaryWords != 30 || rm.Stats.CompressionRatio != 70 {
		t.Errorf("unexpected totals %+v", *rm.Stats)
	}
}

func TestStats(t *testing.T) {
	tests := []struct {
		name    string
		payload *model.SummaryPayload
		want    *model.SummaryStats
	}{
		{
			name:    "reported lengths",
			payload: &model.SummaryPayload{Summary: "a b c", OriginalLength: intPtr(100), SummaryLength: intPtr(30)},
			want:    &model.SummaryStats{OriginalWords: 100, SummaryWords: 30, CompressionRatio: 70},
		},
		{
			name:    "counted from text",
			payload: &model.SummaryPayload{Summary: "one two", OriginalText: "one two three four"},
			want:    &model.SummaryStats{OriginalWords: 4, SummaryWords: 2, CompressionRatio: 50},
		},
		{
			name:    "unknown original",
			payload: &model.SummaryPayload{Summary: "only a summary"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Stats(tt.payload)
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected nil stats, got %+v", *got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("expected %+v, got %+v", *tt.want, got)
			}
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	rm := Aggregate(&model.BatchResult{})

	if rm.Total != 0 || rm.Combined != "" || rm.Stats != nil {
		t.Errorf("unexpected render model for empty result: %+v", rm)
	}
	if rm.Blocks == nil || rm.Failures == nil {
		t.Error("expected empty, non-nil slices")
	}
}
