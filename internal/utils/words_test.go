package utils

import "testing"

func TestWordCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one two  three\nfour\tfive", 5},
		{"नमस्ते दुनिया", 2},
	}

	for _, tt := range tests {
		if got := WordCount(tt.text); got != tt.want {
			t.Errorf("WordCount(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCompressionRatio(t *testing.T) {
	tests := []struct {
		original, summary, want int
	}{
		{100, 30, 70},
		{3, 1, 67},
		{10, 10, 0},
		{0, 5, 0},
		{10, 15, -50},
	}

	for _, tt := range tests {
		if got := CompressionRatio(tt.original, tt.summary); got != tt.want {
			t.Errorf("CompressionRatio(%d, %d) = %d, want %d", tt.original, tt.summary, got, tt.want)
		}
	}
}
