package voting

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ballots builds a ballot of for/against/abstain voters, each holding q quotité.
func ballots(forN, againstN, abstainN int, q float64) map[string]Ballot {
	out := map[string]Ballot{}
	add := func(prefix string, n int, v Vote) {
		for i := 0; i < n; i++ {
			out[fmt.Sprintf("%s-%d", prefix, i)] = Ballot{Vote: v, Quotite: q}
		}
	}
	add("for", forN, VoteFor)
	add("against", againstN, VoteAgainst)
	add("abstain", abstainN, VoteAbstain)
	return out
}

func TestTally_OnePersonOneVote_QuorumBoundary(t *testing.T) {
	rules := Rules{Method: MethodOnePersonOneVote, QuorumPct: 50, MajorityPct: 50, TotalEligible: 8}

	below, err := Tally(ballots(3, 0, 0, 0.1), rules)
	require.NoError(t, err)
	assert.False(t, below.QuorumReached)

	at, err := Tally(ballots(3, 1, 0, 0.1), rules)
	require.NoError(t, err)
	assert.True(t, at.QuorumReached, "exactly at quorum counts")

	above, err := Tally(ballots(3, 2, 0, 0.1), rules)
	require.NoError(t, err)
	assert.True(t, above.QuorumReached)
}

func TestTally_OnePersonOneVote_MajorityBoundary(t *testing.T) {
	rules := Rules{Method: MethodOnePersonOneVote, QuorumPct: 0, MajorityPct: 50, TotalEligible: 10}

	below, err := Tally(ballots(1, 3, 0, 0), rules)
	require.NoError(t, err)
	assert.False(t, below.MajorityReached)

	at, err := Tally(ballots(2, 2, 0, 0), rules)
	require.NoError(t, err)
	assert.False(t, at.MajorityReached, "exactly half is not a majority")

	above, err := Tally(ballots(3, 1, 0, 0), rules)
	require.NoError(t, err)
	assert.True(t, above.MajorityReached)
	assert.True(t, above.Passed())
}

func TestTally_AbstentionsCountTowardCast(t *testing.T) {
	rules := Rules{Method: MethodOnePersonOneVote, QuorumPct: 50, MajorityPct: 50, TotalEligible: 4}

	r, err := Tally(ballots(2, 0, 2, 0.25), rules)
	require.NoError(t, err)
	assert.Equal(t, 4, r.VotersCast)
	assert.Equal(t, 2, r.VotesAbstain)
	assert.True(t, r.QuorumReached)
	assert.False(t, r.MajorityReached)
}

func TestTally_QuotiteWeighted(t *testing.T) {
	rules := Rules{Method: MethodQuotiteWeighted, QuorumPct: 50, MajorityPct: 50}

	t.Run("quorum boundary", func(t *testing.T) {
		below, err := Tally(map[string]Ballot{"a": {VoteFor, 0.25}, "b": {VoteFor, 0.125}}, rules)
		require.NoError(t, err)
		assert.False(t, below.QuorumReached)

		at, err := Tally(map[string]Ballot{"a": {VoteFor, 0.25}, "b": {VoteFor, 0.25}}, rules)
		require.NoError(t, err)
		assert.True(t, at.QuorumReached)

		above, err := Tally(map[string]Ballot{"a": {VoteFor, 0.5}, "b": {VoteFor, 0.125}}, rules)
		require.NoError(t, err)
		assert.True(t, above.QuorumReached)
	})

	t.Run("majority boundary", func(t *testing.T) {
		at, err := Tally(map[string]Ballot{"a": {VoteFor, 0.25}, "b": {VoteAgainst, 0.25}}, rules)
		require.NoError(t, err)
		assert.False(t, at.MajorityReached)

		below, err := Tally(map[string]Ballot{"a": {VoteFor, 0.25}, "b": {VoteAgainst, 0.375}}, rules)
		require.NoError(t, err)
		assert.False(t, below.MajorityReached)

		above, err := Tally(map[string]Ballot{"a": {VoteFor, 0.375}, "b": {VoteAgainst, 0.25}}, rules)
		require.NoError(t, err)
		assert.True(t, above.MajorityReached)
	})

	t.Run("one large owner outweighs many small ones", func(t *testing.T) {
		b := map[string]Ballot{
			"big": {VoteFor, 0.625},
			"s1":  {VoteAgainst, 0.125},
			"s2":  {VoteAgainst, 0.125},
			"s3":  {VoteAgainst, 0.125},
		}
		r, err := Tally(b, rules)
		require.NoError(t, err)
		assert.True(t, r.Passed())

		democratic, err := Tally(b, Rules{Method: MethodOnePersonOneVote, QuorumPct: 50, MajorityPct: 50, TotalEligible: 4})
		require.NoError(t, err)
		assert.False(t, democratic.Passed())
	})

	t.Run("custom total quotite", func(t *testing.T) {
		r, err := Tally(map[string]Ballot{"a": {VoteFor, 50}}, Rules{Method: MethodQuotiteWeighted, QuorumPct: 50, MajorityPct: 50, TotalQuotite: 100})
		require.NoError(t, err)
		assert.True(t, r.QuorumReached)
	})
}

func TestTally_Hybrid(t *testing.T) {
	t.Run("missing weights", func(t *testing.T) {
		_, err := Tally(ballots(1, 0, 0, 0.5), Rules{Method: MethodHybrid, QuorumPct: 50, MajorityPct: 50, TotalEligible: 2})
		assert.True(t, errors.Is(err, apperr.ErrMissingConfiguration))
	})

	weights := &HybridWeights{DemocraticWeight: 0.5, QuotiteWeight: 0.5}

	t.Run("blended score", func(t *testing.T) {
		b := map[string]Ballot{
			"a": {VoteFor, 0.5},
			"b": {VoteAgainst, 0.25},
			"c": {VoteAgainst, 0.25},
		}
		r, err := Tally(b, Rules{Method: MethodHybrid, QuorumPct: 50, MajorityPct: 50, TotalEligible: 4, Hybrid: weights})
		require.NoError(t, err)
		require.NotNil(t, r.HybridScore)
		// (1/3)·0.5 + (0.5/1.0)·0.5
		assert.InDelta(t, 1.0/6+0.25, *r.HybridScore, 1e-12)
		assert.True(t, r.QuorumReached)
		assert.False(t, r.MajorityReached)
	})

	t.Run("quorum needs both sub-methods", func(t *testing.T) {
		// three of four voters but only a quarter of the quotité
		b := ballots(3, 0, 0, 0.25/3)
		r, err := Tally(b, Rules{Method: MethodHybrid, QuorumPct: 50, MajorityPct: 50, TotalEligible: 4, Hybrid: weights})
		require.NoError(t, err)
		assert.False(t, r.QuorumReached)
		assert.True(t, r.MajorityReached)
	})

	t.Run("score boundary", func(t *testing.T) {
		b := map[string]Ballot{"a": {VoteFor, 0.25}, "b": {VoteAgainst, 0.25}}
		r, err := Tally(b, Rules{Method: MethodHybrid, QuorumPct: 0, MajorityPct: 50, TotalEligible: 2, Hybrid: weights})
		require.NoError(t, err)
		assert.Equal(t, 0.5, *r.HybridScore)
		assert.False(t, r.MajorityReached)
	})
}

func TestTally_EmptyBallot(t *testing.T) {
	r, err := Tally(map[string]Ballot{}, Rules{Method: MethodHybrid, QuorumPct: 10, MajorityPct: 50, TotalEligible: 3, Hybrid: &HybridWeights{1, 0}})
	require.NoError(t, err)
	assert.False(t, r.QuorumReached)
	assert.False(t, r.MajorityReached)
	assert.Equal(t, 0.0, *r.HybridScore)
}

func TestTally_Validation(t *testing.T) {
	_, err := Tally(nil, Rules{Method: "sortition"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = Tally(nil, Rules{Method: MethodOnePersonOneVote, QuorumPct: 120})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = Tally(map[string]Ballot{"a": {Vote: "maybe"}}, Rules{Method: MethodOnePersonOneVote})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}
