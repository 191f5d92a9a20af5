package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/utils"
)

var ErrEmptyText = errors.New("please enter some text to summarize")

// TextService handles the plain text intake
type TextService struct {
	summarizer client.Summarizer
	defaults   Defaults
}

func NewTextService(summarizer client.Summarizer, defaults Defaults) *TextService {
	if defaults.TargetLanguage == "" {
		defaults.TargetLanguage = string(model.LanguageEN)
	}
	if defaults.Bounds == (model.LengthBounds{}) {
		defaults.Bounds = model.DefaultLengthBounds
	}
	return &TextService{
		summarizer: summarizer,
		defaults:   defaults,
	}
}

// Summarize sends pasted text to the remote service and computes its stats.
// The original word count is always known here, so stats are always present.
func (s *TextService) Summarize(ctx context.Context, req *model.SummarizeTextRequest) (*model.SummarizeTextResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	language := req.TargetLanguage
	if language == "" {
		language = s.defaults.TargetLanguage
	}
	bounds := model.LengthBounds{Min: req.MinLength, Max: req.MaxLength}
	if bounds.Min <= 0 {
		bounds.Min = s.defaults.Bounds.Min
	}
	if bounds.Max <= 0 {
		bounds.Max = s.defaults.Bounds.Max
	}
	if bounds.Min > bounds.Max {
		bounds.Min = bounds.Max
	}

	payload, err := s.summarizer.SummarizeText(ctx, &client.TextRequest{
		Text:               text,
		TargetLanguage:     language,
		MaxLength:          bounds.Max,
		MinLength:          bounds.Min,
		PreserveFormatting: req.PreserveFormatting,
	})
	if err != nil {
		return nil, err
	}

	if payload.OriginalLength == nil && payload.OriginalText == "" {
		payload.OriginalText = text
	}

	resp := &model.SummarizeTextResponse{
		Summary:  payload.Summary,
		Language: language,
		Stats:    batch.Stats(payload),
	}
	if payload.Language != "" {
		resp.Language = payload.Language
	}
	return resp, nil
}

// Languages returns the remote service's language list, falling back to the
// built-in list when the service is unreachable.
func (s *TextService) Languages(ctx context.Context) []model.LanguageInfo {
	langs, err := s.summarizer.Languages(ctx)
	if err != nil || len(langs) == 0 {
		if err != nil {
			utils.Zlog.Warn("Falling back to built-in language list", zap.Error(err))
		}
		return model.SupportedLanguages
	}
	return langs
}
