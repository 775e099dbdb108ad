package scoring

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Title boosts.
const (
	TitleExactBoost   = 5.0
	TitleAllWordBoost = 3.5
	TitlePartialBoost = 2.0
)

// Recency boosts by document age.
const (
	RecentDayBoost     = 1.8
	RecentWeekBoost    = 1.5
	RecentMonthBoost   = 1.2
	RecentQuarterBoost = 1.1
)

// TitleStage boosts candidates whose title matches the query. An exact title
// ranks highest, then a title containing every word, then a partial match
// scaled by the fraction of words found.
func TitleStage() Stage {
	return Stage{Name: "title", Score: titleBoost}
}

func titleBoost(c *Candidate, query string, words []string) float64 {
	if len(words) == 0 || len(c.TitleTerms) == 0 {
		return 1.0
	}
	if slices.Equal(c.TitleTerms, words) ||
		strings.EqualFold(strings.TrimSpace(c.Title), strings.TrimSpace(query)) {
		return TitleExactBoost
	}

	matched := 0
	for _, w := range words {
		if titleHas(c.TitleTerms, w) {
			matched++
		}
	}
	switch {
	case matched == len(words):
		return TitleAllWordBoost
	case matched > 0:
		fraction := float64(matched) / float64(len(words))
		return TitlePartialBoost + (TitleAllWordBoost-TitlePartialBoost)*fraction
	}
	return 1.0
}

// titleHas reports whether word is a title term or a prefix of one.
func titleHas(terms []string, word string) bool {
	for _, t := range terms {
		if t == word || strings.HasPrefix(t, word) {
			return true
		}
	}
	return false
}

// RecencyStage boosts recently modified candidates. Beyond ninety days the
// boost decays towards 1.0 and never goes below it.
func RecencyStage(now func() time.Time) Stage {
	return Stage{
		Name: "recency",
		Score: func(c *Candidate, _ string, _ []string) float64 {
			if c.Hit.Modified.IsZero() {
				return 1.0
			}
			return RecencyBoost(now().Sub(c.Hit.Modified))
		},
	}
}

// RecencyBoost returns the multiplier for a document of the given age.
func RecencyBoost(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case age < 24*time.Hour:
		return RecentDayBoost
	case days < 7:
		return RecentWeekBoost
	case days < 30:
		return RecentMonthBoost
	case days < 90:
		return RecentQuarterBoost
	}
	return 1 + (RecentQuarterBoost-1)*math.Exp(-(days-90)/90)
}
