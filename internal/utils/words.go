package utils

import (
	"math"
	"strings"
)

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CompressionRatio returns round((1 - summaryWords/originalWords) * 100).
// It is 0 when the original word count is unknown or zero.
func CompressionRatio(originalWords, summaryWords int) int {
	if originalWords <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(summaryWords)/float64(originalWords)) * 100))
}
