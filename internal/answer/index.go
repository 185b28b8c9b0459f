package answer

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "how": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "with": true, "you": true, "about": true,
}

// tokenize lowercases s and splits it into content words.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// splitSentences breaks text on sentence punctuation and blank lines.
func splitSentences(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(b.String()), " "); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush()
			}
		}
	}
	flush()
	return out
}

type chunk struct {
	id        int
	sentences []int // indexes into index.sentences
	text      string
	terms     map[string]int
}

type index struct {
	sentences []string
	sentTerms []map[string]int
	chunks    []chunk
	df        map[string]int
}

// buildIndex groups sentences into overlapping chunks of roughly chunkSize
// characters, carrying about chunkOverlap characters into the next chunk.
func buildIndex(text string) *index {
	ix := &index{df: make(map[string]int)}
	ix.sentences = splitSentences(text)
	ix.sentTerms = make([]map[string]int, len(ix.sentences))
	for i, s := range ix.sentences {
		ix.sentTerms[i] = termCounts(tokenize(s))
	}

	start := 0
	for start < len(ix.sentences) {
		end, size := start, 0
		for end < len(ix.sentences) && (end == start || size+len(ix.sentences[end]) <= chunkSize) {
			size += len(ix.sentences[end]) + 1
			end++
		}

		c := chunk{id: len(ix.chunks), terms: make(map[string]int)}
		parts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			c.sentences = append(c.sentences, i)
			parts = append(parts, ix.sentences[i])
			for t, n := range ix.sentTerms[i] {
				c.terms[t] += n
			}
		}
		c.text = strings.Join(parts, " ")
		for t := range c.terms {
			ix.df[t]++
		}
		ix.chunks = append(ix.chunks, c)

		if end == len(ix.sentences) {
			break
		}
		// Step back over trailing sentences to form the overlap.
		next, carried := end, 0
		for next-1 > start && carried+len(ix.sentences[next-1]) <= chunkOverlap {
			next--
			carried += len(ix.sentences[next]) + 1
		}
		start = next
	}
	return ix
}

func termCounts(terms []string) map[string]int {
	m := make(map[string]int, len(terms))
	for _, t := range terms {
		m[t]++
	}
	return m
}

func (ix *index) idf(term string) float64 {
	n := float64(len(ix.chunks))
	return math.Log(1 + (n+1)/(float64(ix.df[term])+0.5))
}

type scored struct {
	pos   int
	score float64
}

func (ix *index) score(terms map[string]int, query []string) float64 {
	var s float64
	for _, q := range query {
		if n := terms[q]; n > 0 {
			s += ix.idf(q) * (1 + math.Log(float64(n)))
		}
	}
	return s
}

// topChunks returns up to k chunks with a positive score, best first.
func (ix *index) topChunks(query []string, k int) []chunk {
	var hits []scored
	for i, c := range ix.chunks {
		if s := ix.score(c.terms, query); s > 0 {
			hits = append(hits, scored{pos: i, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]chunk, len(hits))
	for i, h := range hits {
		out[i] = ix.chunks[h.pos]
	}
	return out
}

// bestSentences picks up to k of the highest scoring sentences from chunks
// and returns them in document order.
func (ix *index) bestSentences(chunks []chunk, query []string, k int) []string {
	seen := make(map[int]bool)
	var hits []scored
	for _, c := range chunks {
		for _, si := range c.sentences {
			if seen[si] {
				continue
			}
			seen[si] = true
			if s := ix.score(ix.sentTerms[si], query); s > 0 {
				hits = append(hits, scored{pos: si, score: s})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = ix.sentences[h.pos]
	}
	return out
}
