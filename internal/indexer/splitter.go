package indexer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order, from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

var pageMarker = regexp.MustCompile(`(?m)^[ \t]*--- PAGE (\d+) ---[ \t]*$`)

// Page is the text of one source page. Number is 0 when the source has no pages.
type Page struct {
	Number int
	Text   string
}

// TextChunk is one piece of split text and the page it came from.
type TextChunk struct {
	Text string
	Page int
}

// Splitter is a recursive character splitter. Lengths are counted in runes.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap, Separators: DefaultSeparators}
}

// SplitPages splits every page separately so no chunk spans two pages.
func (s *Splitter) SplitPages(pages []Page) []TextChunk {
	var out []TextChunk
	for _, p := range pages {
		for _, text := range s.Split(p.Text) {
			out = append(out, TextChunk{Text: text, Page: p.Number})
		}
	}
	return out
}

// Split breaks text into chunks of at most ChunkSize runes where the separators allow it.
func (s *Splitter) Split(text string) []string {
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return s.split(text, separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, good []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, separator)...)
	}
	return out
}

// merge packs pieces into chunks, carrying up to Overlap runes from the end
// of one chunk into the next.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	joinLen := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	var chunks, current []string
	total := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n+joinLen(len(current)) > s.ChunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > s.Overlap || total+n+joinLen(len(current)) > s.ChunkSize) {
				total -= utf8.RuneCountInString(current[0]) + joinLen(len(current)-1)
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n + joinLen(len(current)-1)
	}
	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// SplitPageMarkers cuts text produced with "--- PAGE n ---" markers into pages.
// Text before the first marker, or text without markers, is returned as page 0.
func SplitPageMarkers(text string) []Page {
	locs := pageMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Page{{Number: 0, Text: text}}
	}

	var pages []Page
	if head := text[:locs[0][0]]; strings.TrimSpace(head) != "" {
		pages = append(pages, Page{Number: 0, Text: head})
	}
	for i, loc := range locs {
		number, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[1]:end]
		if strings.TrimSpace(body) == "" {
			continue
		}
		pages = append(pages, Page{Number: number, Text: body})
	}
	return pages
}
