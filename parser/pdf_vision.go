package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/kgraph-ai/harmonizer/llm"
)

// PDFVisionParser uses a vision LLM to extract text from complex PDF pages
// (tables, diagrams, multi-column layouts) that the native PDF parser tends
// to mangle.
type PDFVisionParser struct {
	visionProvider llm.VisionProvider
}

func NewPDFVisionParser(provider llm.VisionProvider) *PDFVisionParser {
	return &PDFVisionParser{visionProvider: provider}
}

func (p *PDFVisionParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFVisionParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PDF for vision: %w", err)
	}

	b64 := base64.StdEncoding.EncodeToString(data)

	resp, err := p.visionProvider.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{
						Type: "text",
						Text: `Extract all text content from this PDF page. Preserve the structure:
- For tables, format as markdown tables
- For headings, prefix with appropriate markdown heading levels
- For lists, use markdown list format
- For diagrams, describe the content in [Diagram: ...] blocks
- Preserve section numbering`,
					},
					{
						Type: "image_url",
						ImageURL: &llm.ImageURL{
							URL: "data:application/pdf;base64," + b64,
						},
					},
				},
			},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}

	sections := splitPageIntoSections(resp.Content, 1)

	return &ParseResult{
		Sections: sections,
		Method:   "vision",
	}, nil
}

// HybridPDFParser parses with the native PDFParser by default, falling
// back to vision-assisted extraction when DetectComplexity flags the
// document as structurally complex (tables together with multi-column
// layout; fonts and images are not measured) and a vision provider is
// configured (§4.3's Extractor capability
// reused here at parse time rather than extraction time).
type HybridPDFParser struct {
	native *PDFParser
	vision *PDFVisionParser
}

// NewHybridPDFParser wraps the native PDF parser with a complexity-gated
// vision fallback. Passing a nil provider disables the fallback; Parse
// always uses the native parser in that case.
func NewHybridPDFParser(provider llm.VisionProvider) *HybridPDFParser {
	h := &HybridPDFParser{native: &PDFParser{}}
	if provider != nil {
		h.vision = NewPDFVisionParser(provider)
	}
	return h
}

func (h *HybridPDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (h *HybridPDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	if h.vision != nil {
		if score, err := DetectComplexity(path); err == nil && score.IsComplex() {
			result, err := h.vision.Parse(ctx, path)
			if err == nil {
				return result, nil
			}
			// Vision extraction failed (provider error, rate limit, etc.):
			// fall through to the native parser rather than failing the
			// whole ingest.
		}
	}
	return h.native.Parse(ctx, path)
}
