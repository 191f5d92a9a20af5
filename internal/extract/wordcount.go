package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/utils"
)

// ErrUnsupported is returned for types whose text cannot be read locally.
var ErrUnsupported = errors.New("local text extraction not supported for this type")

// Text returns the plain text of a payload. Plain text and PDF are read
// locally; Word documents and images need the remote service.
func Text(ctx context.Context, name, mimeType string, payload []byte) (string, error) {
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return decodeText(payload), nil
	case mimeType == "application/pdf":
		return pdfText(ctx, name, payload)
	default:
		return "", ErrUnsupported
	}
}

// WordCount counts the words of a payload's extracted text.
func WordCount(ctx context.Context, name, mimeType string, payload []byte) (int, error) {
	text, err := Text(ctx, name, mimeType, payload)
	if err != nil {
		return 0, err
	}
	return utils.WordCount(text), nil
}

// decodeText reads UTF-8 and falls back to Latin-1 for anything else.
func decodeText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	runes := make([]rune, len(payload))
	for i, b := range payload {
		runes[i] = rune(b)
	}
	return string(runes)
}

func pdfText(ctx context.Context, name string, payload []byte) (string, error) {
	parser, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create PDF parser: %w", err)
	}

	docs, err := parser.Parse(ctx, bytes.NewReader(payload),
		einoParser.WithURI(name),
		einoParser.WithExtraMeta(map[string]any{
			"filename": name,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) != "" {
			pages = append(pages, doc.Content)
		}
	}

	utils.Zlog.Debug("PDF text extracted",
		zap.String("filename", name),
		zap.Int("documents", len(docs)))

	return strings.Join(pages, "\n\n"), nil
}
