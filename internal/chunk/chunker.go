package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// WhitespaceChunker produces fixed-size token windows.
// A token is a maximal run of non-whitespace runes; counts approximate model tokens.
type WhitespaceChunker struct {
	opts Options
}

var _ Chunker = (*WhitespaceChunker)(nil)

// NewWhitespaceChunker validates opts and returns a chunker.
func NewWhitespaceChunker(opts Options) (*WhitespaceChunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &WhitespaceChunker{opts: opts}, nil
}

// Options returns the chunker configuration.
func (c *WhitespaceChunker) Options() Options {
	return c.opts
}

// Chunk splits text using the chunker's options.
func (c *WhitespaceChunker) Chunk(text string) ([]Draft, error) {
	return Chunk(text, c.opts)
}

// token is a word with its source position.
type token struct {
	text      string
	line      int
	paragraph int
}

// Chunk splits text into windows of opts.Size tokens advancing by opts.Stride().
// Empty or whitespace-only text yields no drafts. Windowing stops at the first
// window that reaches the last token, so the result never ends with a window
// made only of overlap.
func Chunk(text string, opts Options) ([]Draft, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tokens := tokenize(text, opts.Separator)
	if len(tokens) == 0 {
		return []Draft{}, nil
	}

	stride := opts.Stride()
	drafts := make([]Draft, 0, ExpectedCount(len(tokens), opts))

	for start := 0; start < len(tokens); start += stride {
		end := start + opts.Size
		if end > len(tokens) {
			end = len(tokens)
		}

		words := make([]string, end-start)
		for i, tok := range tokens[start:end] {
			words[i] = tok.text
		}

		drafts = append(drafts, Draft{
			Index:      len(drafts),
			Text:       strings.Join(words, " "),
			TokenStart: start,
			TokenEnd:   end,
			LineStart:  tokens[start].line,
			LineEnd:    tokens[end-1].line,
			Paragraph:  tokens[start].paragraph,
		})

		if end == len(tokens) {
			break
		}
	}

	return drafts, nil
}

// ExpectedCount returns the number of drafts Chunk produces for n tokens:
// ceil((n-overlap)/stride), and 1 for any non-empty text no longer than the overlap.
func ExpectedCount(n int, opts Options) int {
	if n <= 0 || opts.Stride() <= 0 {
		return 0
	}
	rest := n - opts.Overlap
	if rest <= 0 {
		return 1
	}
	return (rest + opts.Stride() - 1) / opts.Stride()
}

// tokenize splits text on Unicode whitespace, recording the 1-based line of
// every token. A token opens a new paragraph when a whole separator lies
// between the start of the previous token and its own start.
func tokenize(text, separator string) []token {
	seps := separatorOffsets(text, separator)

	var (
		tokens    []token
		line      = 1
		paragraph = 1
		start     = -1
		startLine = 1
		prevStart = 0
		next      = 0
	)

	flush := func(end int) {
		if start < 0 {
			return
		}
		if len(tokens) > 0 {
			crossed := false
			for next < len(seps) && seps[next] < start {
				if seps[next] >= prevStart && seps[next]+len(separator) <= start {
					crossed = true
				}
				next++
			}
			if crossed {
				paragraph++
			}
		}
		tokens = append(tokens, token{text: text[start:end], line: startLine, paragraph: paragraph})
		prevStart = start
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			flush(i)
			if r == '\n' {
				line++
			}
		} else if start < 0 {
			start = i
			startLine = line
		}
		i += size
	}
	flush(len(text))

	return tokens
}

// separatorOffsets returns the byte offsets of non-overlapping separator occurrences.
func separatorOffsets(text, separator string) []int {
	if separator == "" {
		return nil
	}
	var offsets []int
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], separator)
		if i < 0 {
			break
		}
		offsets = append(offsets, from+i)
		from += i + len(separator)
	}
	return offsets
}
