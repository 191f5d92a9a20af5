package batch

import (
	"fmt"
	"strings"

	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/utils"
)

// Aggregate turns a batch result into a render model: one labelled block per
// success in original order, the combined text, counts and word statistics.
func Aggregate(result *model.BatchResult) *model.RenderModel {
	rm := &model.RenderModel{
		Blocks:   make([]model.SummaryBlock, 0, len(result.Successes)),
		Failures: make([]model.FailedBlock, 0, len(result.Failures)),
	}

	var sections []string
	var totalOriginal, totalSummary int
	for _, s := range result.Successes {
		block := model.SummaryBlock{
			Handle:   s.Item.Handle,
			Filename: s.Item.Name,
		}
		if s.Summary != nil {
			block.Summary = s.Summary.Summary
			block.Stats = Stats(s.Summary)
		}
		if block.Stats != nil {
			totalOriginal += block.Stats.OriginalWords
			totalSummary += block.Stats.SummaryWords
		}
		rm.Blocks = append(rm.Blocks, block)
		sections = append(sections, fmt.Sprintf("### %s\n\n%s", block.Filename, strings.TrimSpace(block.Summary)))
	}

	for _, f := range result.Failures {
		rm.Failures = append(rm.Failures, model.FailedBlock{
			Handle:   f.Item.Handle,
			Filename: f.Item.Name,
			Error:    f.Error,
		})
	}

	rm.Combined = strings.Join(sections, "\n\n")
	rm.Processed = len(result.Successes)
	rm.Failed = len(result.Failures)
	rm.Total = rm.Processed + rm.Failed
	rm.Message = fmt.Sprintf("%d of %d files processed", rm.Processed, rm.Total)

	if totalOriginal > 0 {
		rm.Stats = &model.SummaryStats{
			OriginalWords:    totalOriginal,
			SummaryWords:     totalSummary,
			CompressionRatio: utils.CompressionRatio(totalOriginal, totalSummary),
		}
	}
	return rm
}

// Stats computes word statistics for one summary. Reported lengths win over
// counted ones; nil is returned when the original length is unknown.
func Stats(p *model.SummaryPayload) *model.SummaryStats {
	originalWords := 0
	switch {
	case p.OriginalLength != nil:
		originalWords = *p.OriginalLength
	case p.OriginalText != "":
		originalWords = utils.WordCount(p.OriginalText)
	}
	if originalWords <= 0 {
		return nil
	}

	summaryWords := utils.WordCount(p.Summary)
	if p.SummaryLength != nil {
		summaryWords = *p.SummaryLength
	}

	return &model.SummaryStats{
		OriginalWords:    originalWords,
		SummaryWords:     summaryWords,
		CompressionRatio: utils.CompressionRatio(originalWords, summaryWords),
	}
}
