package vocab

import (
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/xrash/smetrics"
)

const (
	// MinTermLength is the shortest term kept in the vocabulary.
	MinTermLength = 4

	// MaxLengthDifference bounds the length gap between a term and a correction.
	MaxLengthDifference = 3

	// MinJaccard is the trigram overlap a candidate needs to be scored at all.
	MinJaccard = 0.3

	// DefaultThreshold is the minimum combined similarity of a correction.
	DefaultThreshold = 0.6

	jaroWinklerBoost  = 0.7
	jaroWinklerPrefix = 4
)

// Eligible reports whether a term is kept in the vocabulary and considered
// for correction: alphabetic and at least MinTermLength runes long.
func Eligible(term string) bool {
	if utf8.RuneCountInString(term) < MinTermLength {
		return false
	}
	for _, r := range term {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// trigrams returns the distinct character trigrams of the term padded with
// two spaces on each side.
func trigrams(term string) []string {
	runes := []rune("  " + term + "  ")
	seen := make(map[string]bool, len(runes))
	out := make([]string, 0, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		g := string(runes[i : i+3])
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// lexicon is the in-memory view of the vocabulary with a trigram index.
type lexicon struct {
	mu    sync.RWMutex
	df    map[string]int
	grams map[string][]string
}

func newLexicon(df map[string]int) *lexicon {
	l := &lexicon{
		df:    make(map[string]int, len(df)),
		grams: make(map[string][]string),
	}
	for term, n := range df {
		l.df[term] = n
		l.indexTerm(term)
	}
	return l
}

func (l *lexicon) indexTerm(term string) {
	for _, g := range trigrams(term) {
		l.grams[g] = append(l.grams[g], term)
	}
}

func (l *lexicon) add(terms map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for term := range terms {
		if _, ok := l.df[term]; !ok {
			l.indexTerm(term)
		}
		l.df[term]++
	}
}

func (l *lexicon) frequency(term string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.df[term]
}

func (l *lexicon) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.df)
}

type candidate struct {
	term  string
	score float64
	df    int
}

// better orders candidates by score, then document frequency, then lexically.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if c.df != o.df {
		return c.df > o.df
	}
	return c.term < o.term
}

// correct returns the best correction of an unknown term.
func (l *lexicon) correct(term string, threshold float64) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, known := l.df[term]; known || !Eligible(term) {
		return "", false
	}

	grams := trigrams(term)
	shared := make(map[string]int)
	for _, g := range grams {
		for _, t := range l.grams[g] {
			shared[t]++
		}
	}

	length := utf8.RuneCountInString(term)
	var best candidate
	found := false
	for t, common := range shared {
		if abs(utf8.RuneCountInString(t)-length) > MaxLengthDifference {
			continue
		}
		union := len(grams) + len(trigrams(t)) - common
		jaccard := float64(common) / float64(union)
		if jaccard < MinJaccard {
			continue
		}
		score := 0.5*jaccard + 0.5*smetrics.JaroWinkler(term, t, jaroWinklerBoost, jaroWinklerPrefix)
		if score < threshold {
			continue
		}
		c := candidate{term: t, score: score, df: l.df[t]}
		if !found || c.better(best) {
			best = c
			found = true
		}
	}
	return best.term, found
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
