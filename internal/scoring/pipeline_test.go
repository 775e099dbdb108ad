package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func candidate(id, title string, terms []string, base float64, modified time.Time) *Candidate {
	return &Candidate{
		Hit: domain.Hit{
			ID:        "Task:" + id,
			Modified:  modified,
			BaseScore: base,
		},
		Title:      title,
		TitleTerms: terms,
	}
}

func TestRecencyBoost_Tiers(t *testing.T) {
	day := 24 * time.Hour
	assert.Equal(t, RecentDayBoost, RecencyBoost(time.Hour))
	assert.Equal(t, RecentWeekBoost, RecencyBoost(3*day))
	assert.Equal(t, RecentMonthBoost, RecencyBoost(10*day))
	assert.Equal(t, RecentQuarterBoost, RecencyBoost(60*day))
	assert.InDelta(t, RecentQuarterBoost, RecencyBoost(90*day), 1e-9, "decay starts at the quarter boost")
}

func TestRecencyBoost_MonotonicAndNeverPenalizes(t *testing.T) {
	prev := math.Inf(1)
	for hours := 0; hours < 24*3650; hours += 7 {
		b := RecencyBoost(time.Duration(hours) * time.Hour)
		require.LessOrEqual(t, b, prev, "boost increased at %dh", hours)
		require.GreaterOrEqual(t, b, 1.0, "boost below 1.0 at %dh", hours)
		prev = b
	}
}

func TestTitleBoost(t *testing.T) {
	tests := []struct {
		name  string
		title string
		terms []string
		query string
		words []string
		want  float64
	}{
		{"exact terms", "Deploy Pipeline", []string{"deploy", "pipeline"}, "deploy pipeline", []string{"deploy", "pipeline"}, TitleExactBoost},
		{"exact string with repeated word", "Sync sync", []string{"sync", "sync"}, "Sync sync", []string{"sync"}, TitleExactBoost},
		{"exact string", "Fix: login", []string{"fix", "login"}, "fix: login", []string{"fix", "login"}, TitleExactBoost},
		{"all words", "Pipeline for deploy jobs", []string{"pipeline", "for", "deploy", "jobs"}, "deploy pipeline", []string{"deploy", "pipeline"}, TitleAllWordBoost},
		{"half", "Deploy docs", []string{"deploy", "docs"}, "deploy pipeline", []string{"deploy", "pipeline"}, 2.75},
		{"prefix counts", "Deployment", []string{"deployment"}, "deploy", []string{"deploy"}, TitleAllWordBoost},
		{"none", "Write docs", []string{"write", "docs"}, "deploy", []string{"deploy"}, 1.0},
		{"no title", "", nil, "deploy", []string{"deploy"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := candidate("1", tt.title, tt.terms, 1, time.Time{})
			assert.InDelta(t, tt.want, titleBoost(c, tt.query, tt.words), 1e-9)
		})
	}
}

func TestTitleBoost_TiersAreOrdered(t *testing.T) {
	words := []string{"deploy", "pipeline", "nightly"}
	exact := titleBoost(candidate("1", "", words, 1, time.Time{}), "deploy pipeline nightly", words)
	all := titleBoost(candidate("2", "", []string{"nightly", "deploy", "pipeline", "job"}, 1, time.Time{}), "x", words)
	partial := titleBoost(candidate("3", "", []string{"deploy", "pipeline"}, 1, time.Time{}), "x", words)
	none := titleBoost(candidate("4", "", []string{"docs"}, 1, time.Time{}), "x", words)

	assert.Greater(t, exact, all)
	assert.Greater(t, all, partial)
	assert.Greater(t, partial, none)
	assert.Equal(t, 1.0, none)
}

func TestPipeline_RankAndStableTies(t *testing.T) {
	p := New(WithClock(func() time.Time { return now }))
	old := now.AddDate(-2, 0, 0)

	cs := []*Candidate{
		candidate("a", "Other", []string{"other"}, 2.0, old),
		candidate("b", "Other", []string{"other"}, 2.0, old),
		candidate("c", "Deploy", []string{"deploy"}, 1.0, old),
	}
	p.Rank(cs, "deploy", []string{"deploy"})

	require.Equal(t, "Task:c", cs[0].Hit.ID, "title match outranks a higher base score")
	assert.Equal(t, 3, cs[0].OriginalRank)
	assert.Equal(t, 1, cs[0].Rank)

	assert.Equal(t, "Task:a", cs[1].Hit.ID, "ties keep base order")
	assert.Equal(t, "Task:b", cs[2].Hit.ID)
	assert.Equal(t, []int{2, 3}, []int{cs[1].Rank, cs[2].Rank})
	assert.Equal(t, []int{1, 2}, []int{cs[1].OriginalRank, cs[2].OriginalRank})
}

func TestPipeline_Multiplicative(t *testing.T) {
	p := New(WithClock(func() time.Time { return now }))
	p.Register(
		Stage{Name: "double", Score: func(*Candidate, string, []string) float64 { return 2 }},
		Stage{Name: "triple", Score: func(*Candidate, string, []string) float64 { return 3 }},
	)
	assert.Equal(t, []string{"title", "recency", "double", "triple"}, p.Stages())

	c := candidate("a", "Title", []string{"title"}, 1.5, now.Add(-time.Hour))
	p.Rank([]*Candidate{c}, "nothing", []string{"nothing"})
	assert.InDelta(t, 1.5*1.0*RecentDayBoost*2*3, c.Score, 1e-9)
}

func TestPipeline_InvalidMultipliersAreNeutral(t *testing.T) {
	p := New(WithClock(func() time.Time { return now }))
	for _, m := range []float64{-1, math.NaN(), math.Inf(1)} {
		p.Register(Stage{Name: "bad", Score: func(*Candidate, string, []string) float64 { return m }})
	}

	c := candidate("a", "", nil, 2, time.Time{})
	p.Rank([]*Candidate{c}, "q", []string{"q"})
	assert.Equal(t, 2.0, c.Score)
}

func TestPipeline_ZeroMultiplierIsAllowed(t *testing.T) {
	p := New()
	p.Register(Stage{Name: "hide", Score: func(c *Candidate, _ string, _ []string) float64 {
		if c.Hit.ID == "Task:a" {
			return 0
		}
		return 1
	}})

	cs := []*Candidate{candidate("a", "", nil, 5, time.Time{}), candidate("b", "", nil, 1, time.Time{})}
	p.Rank(cs, "q", []string{"q"})
	assert.Equal(t, "Task:b", cs[0].Hit.ID)
	assert.Zero(t, cs[1].Score)
}
