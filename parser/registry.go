package parser

import (
	"fmt"

	"github.com/kgraph-ai/harmonizer/llm"
)

// Registry maps a document's file extension to the Parser that handles it.
// Formats are limited to what this system's ingestion contract actually
// sees: PDF (the S4 filename example), spreadsheets, and plain text.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	// Register built-in parsers
	pdf := &PDFParser{}
	xlsx := &XLSXParser{}
	text := &TextParser{}

	for _, p := range []Parser{pdf, xlsx, text} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// SetVisionProvider swaps the registered PDF parser for a HybridPDFParser,
// so PDFs DetectComplexity flags as structurally complex get vision-
// assisted extraction instead of the native text-layer parser.
func (r *Registry) SetVisionProvider(provider llm.VisionProvider) {
	r.parsers["pdf"] = NewHybridPDFParser(provider)
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
