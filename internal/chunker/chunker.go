// Package chunker splits raw article markup into retrieval-sized plain-text blocks.
package chunker

import (
	"html"
	"regexp"
	"strings"
)

// DefaultTargetSize is the default chunk size in characters,
// approximating 512 tokens at 4 chars/token.
const DefaultTargetSize = 2048

// Pre-compiled regular expressions for markup stripping.
var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag   = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag       = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag        = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockClosers  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	brTags        = regexp.MustCompile(`(?i)<br\s*/?>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)

	// Sentence boundaries: Latin terminators plus the Arabic question
	// mark and the ideographic full stop seen in syndicated content.
	sentenceEnd = regexp.MustCompile(`[^.!?。؟]+[.!?。؟]*\s*`)
)

// Splitter converts article markup into plain-text chunks.
type Splitter struct {
	targetSize int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithTargetSize sets the chunk target size in characters.
func WithTargetSize(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.targetSize = n
		}
	}
}

// New creates a Splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{targetSize: DefaultTargetSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split strips markup from raw and returns plain-text chunks, each
// packed up to the target size on paragraph boundaries. Empty or
// whitespace-only input yields a nil slice.
func (s *Splitter) Split(raw string) []string {
	text := stripMarkup(raw)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}

	for _, para := range splitParagraphs(text) {
		if len(para) > s.targetSize {
			// Oversize paragraph: flush what we have and pack sentences.
			flush()
			chunks = append(chunks, s.packSentences(para)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(para)+2 > s.targetSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()
	return chunks
}

// packSentences greedily packs the sentences of a single oversize
// paragraph into chunks under the target size.
func (s *Splitter) packSentences(para string) []string {
	var chunks []string
	var buf strings.Builder
	for _, sent := range sentenceEnd.FindAllString(para, -1) {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(sent)+1 > s.targetSize {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(sent)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// stripMarkup converts HTML/markup to plain text, preserving paragraph
// breaks on block element boundaries.
func stripMarkup(raw string) string {
	text := scriptTag.ReplaceAllString(raw, "")
	text = styleTag.ReplaceAllString(text, "")
	text = noscriptTag.ReplaceAllString(text, "")
	text = headTag.ReplaceAllString(text, "")
	text = svgTag.ReplaceAllString(text, "")
	text = htmlComments.ReplaceAllString(text, "")
	text = blockClosers.ReplaceAllString(text, "\n\n")
	text = brTags.ReplaceAllString(text, "\n")
	text = allTags.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = multiSpaces.ReplaceAllString(text, " ")
	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return text
}

// splitParagraphs splits plain text on blank-line boundaries.
func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}
