// Package search ranks message search hits. The database does the substring
// filtering; this package orders what came back so the most relevant
// messages come first.
//
// Relevance is the Jaccard similarity between the query token set and the
// message token set: score = |Q ∩ M| / |Q ∪ M|. A message that contains the
// whole query as a phrase gets a fixed bonus. Ties go to the newer message,
// then to the smaller id, so the order is deterministic.
//
// Tokens are Unicode case-folded, so "STRASSE" and "straße" match.
package search

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Doc is one candidate message.
type Doc struct {
	ID   string
	Text string
	At   time.Time
}

// Hit is a ranked candidate.
type Hit struct {
	ID    string
	Score float64
}

// Option configures a Ranker.
type Option func(*config)

type config struct {
	stopwords    map[string]struct{}
	maxResults   int
	phraseWeight float64
}

func defaultConfig() config {
	return config{
		phraseWeight: 0.5,
	}
}

// WithStopwords drops the given words from both query and documents.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxResults caps the number of hits returned.
func WithMaxResults(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithPhraseWeight sets the bonus for containing the whole query.
func WithPhraseWeight(w float64) Option {
	return func(c *config) {
		if w >= 0 {
			c.phraseWeight = w
		}
	}
}

// Ranker is immutable after construction and safe for concurrent use.
type Ranker struct {
	cfg config
}

// NewRanker returns a Ranker with the given options applied.
func NewRanker(opts ...Option) *Ranker {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Ranker{cfg: cfg}
}

// Rank scores every doc against q and returns them best first. Every doc is
// kept, including those with a zero score: the caller already decided they
// match.
func (r *Ranker) Rank(q string, docs []Doc) []Hit {
	if len(docs) == 0 {
		return nil
	}
	phrase := fold(normalizeWhitespace(strings.TrimSpace(q)))
	qTokens := tokenize(q, r.cfg.stopwords)
	qLen := len(qTokens)

	type scored struct {
		id    string
		score float64
		at    time.Time
	}
	buf := make([]scored, 0, len(docs))
	for _, d := range docs {
		var score float64
		if qLen > 0 {
			dTokens := tokenize(d.Text, r.cfg.stopwords)
			over := overlap(qTokens, dTokens)
			if union := qLen + len(dTokens) - over; union > 0 {
				score = float64(over) / float64(union)
			}
		}
		if phrase != "" && strings.Contains(fold(normalizeWhitespace(d.Text)), phrase) {
			score += r.cfg.phraseWeight
		}
		buf = append(buf, scored{id: d.ID, score: score, at: d.At})
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if !buf[a].at.Equal(buf[b].at) {
			return buf[a].at.After(buf[b].at)
		}
		return buf[a].id < buf[b].id
	})

	n := len(buf)
	if r.cfg.maxResults > 0 && n > r.cfg.maxResults {
		n = r.cfg.maxResults
	}
	out := make([]Hit, n)
	for i := 0; i < n; i++ {
		out[i] = Hit{ID: buf[i].id, Score: buf[i].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func fold(s string) string {
	return cases.Fold().String(s)
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
