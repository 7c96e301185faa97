// Package voting tallies community ballots under one-person-one-vote,
// quotité-weighted or hybrid rules.
package voting

import (
	"github.com/coophabitat/finance-engine/internal/apperr"
)

// Vote is a single voter's choice.
type Vote string

const (
	VoteFor     Vote = "for"
	VoteAgainst Vote = "against"
	VoteAbstain Vote = "abstain"
)

// Valid reports whether v is one of the three accepted values.
func (v Vote) Valid() bool {
	return v == VoteFor || v == VoteAgainst || v == VoteAbstain
}

// Method selects how quorum and majority are computed.
type Method string

const (
	MethodOnePersonOneVote Method = "one_person_one_vote"
	MethodQuotiteWeighted  Method = "quotite_weighted"
	MethodHybrid           Method = "hybrid"
)

// Ballot is one voter's vote with their quotité at ballot time.
type Ballot struct {
	Vote    Vote    `json:"vote"`
	Quotite float64 `json:"quotite"`
}

// HybridWeights blend the democratic and quotité-weighted approval ratios.
type HybridWeights struct {
	DemocraticWeight float64 `json:"democratic_weight"`
	QuotiteWeight    float64 `json:"quotite_weight"`
}

// Rules configures a tally. Percentages are 0-100.
type Rules struct {
	Method        Method
	QuorumPct     float64
	MajorityPct   float64
	TotalEligible int
	// TotalQuotite is the quotité that could have been cast; zero means 1.0.
	TotalQuotite float64
	Hybrid       *HybridWeights
}

// Result is the outcome of a tally.
type Result struct {
	Method          Method   `json:"method"`
	VotersCast      int      `json:"voters_cast"`
	VotesFor        int      `json:"votes_for"`
	VotesAgainst    int      `json:"votes_against"`
	VotesAbstain    int      `json:"votes_abstain"`
	QuotiteCast     float64  `json:"quotite_cast"`
	QuotiteFor      float64  `json:"quotite_for"`
	QuotiteAgainst  float64  `json:"quotite_against"`
	QuotiteAbstain  float64  `json:"quotite_abstain"`
	QuorumReached   bool     `json:"quorum_reached"`
	MajorityReached bool     `json:"majority_reached"`
	HybridScore     *float64 `json:"hybrid_score,omitempty"`
}

// Passed reports whether both quorum and majority were reached.
func (r Result) Passed() bool {
	return r.QuorumReached && r.MajorityReached
}

// Count sums votes and quotité without applying any threshold.
func Count(ballots map[string]Ballot) (Result, error) {
	var r Result
	for voter, b := range ballots {
		if !b.Vote.Valid() {
			return Result{}, apperr.InvalidInput("voter %s cast unknown vote %q", voter, b.Vote)
		}
		if b.Quotite < 0 {
			return Result{}, apperr.InvalidInput("voter %s has negative quotité %v", voter, b.Quotite)
		}
		r.VotersCast++
		r.QuotiteCast += b.Quotite
		switch b.Vote {
		case VoteFor:
			r.VotesFor++
			r.QuotiteFor += b.Quotite
		case VoteAgainst:
			r.VotesAgainst++
			r.QuotiteAgainst += b.Quotite
		case VoteAbstain:
			r.VotesAbstain++
			r.QuotiteAbstain += b.Quotite
		}
	}
	return r, nil
}

// Tally applies rules to ballots. Quorum compares with >=, majority with >.
func Tally(ballots map[string]Ballot, rules Rules) (Result, error) {
	if err := rules.validate(); err != nil {
		return Result{}, err
	}
	r, err := Count(ballots)
	if err != nil {
		return Result{}, err
	}
	r.Method = rules.Method

	totalQuotite := rules.TotalQuotite
	if totalQuotite == 0 {
		totalQuotite = 1.0
	}
	quorum := rules.QuorumPct / 100
	majority := rules.MajorityPct / 100

	democraticQuorum := rules.TotalEligible > 0 && float64(r.VotersCast)/float64(rules.TotalEligible) >= quorum
	weightedQuorum := r.QuotiteCast/totalQuotite >= quorum

	switch rules.Method {
	case MethodOnePersonOneVote:
		r.QuorumReached = democraticQuorum
		r.MajorityReached = float64(r.VotesFor) > float64(r.VotersCast)*majority
	case MethodQuotiteWeighted:
		r.QuorumReached = weightedQuorum
		r.MajorityReached = r.QuotiteFor > r.QuotiteCast*majority
	case MethodHybrid:
		r.QuorumReached = democraticQuorum && weightedQuorum
		score := hybridScore(r, *rules.Hybrid)
		r.HybridScore = &score
		r.MajorityReached = score > majority
	}

	return r, nil
}

func hybridScore(r Result, w HybridWeights) float64 {
	var democratic, weighted float64
	if r.VotersCast > 0 {
		democratic = float64(r.VotesFor) / float64(r.VotersCast)
	}
	if r.QuotiteCast > 0 {
		weighted = r.QuotiteFor / r.QuotiteCast
	}
	return democratic*w.DemocraticWeight + weighted*w.QuotiteWeight
}

func (rules Rules) validate() error {
	switch rules.Method {
	case MethodOnePersonOneVote, MethodQuotiteWeighted:
	case MethodHybrid:
		if rules.Hybrid == nil {
			return apperr.New(apperr.CodeMissingConfiguration, "hybrid voting requires democratic and quotité weights")
		}
		if rules.Hybrid.DemocraticWeight < 0 || rules.Hybrid.QuotiteWeight < 0 {
			return apperr.InvalidInput("hybrid weights must not be negative")
		}
	default:
		return apperr.InvalidInput("unknown voting method %q", rules.Method)
	}
	if rules.QuorumPct < 0 || rules.QuorumPct > 100 {
		return apperr.InvalidInput("quorum must be within [0, 100], got %v", rules.QuorumPct)
	}
	if rules.MajorityPct < 0 || rules.MajorityPct > 100 {
		return apperr.InvalidInput("majority must be within [0, 100], got %v", rules.MajorityPct)
	}
	if rules.TotalEligible < 0 {
		return apperr.InvalidInput("total eligible voters must not be negative, got %d", rules.TotalEligible)
	}
	if rules.TotalQuotite < 0 {
		return apperr.InvalidInput("total quotité must not be negative, got %v", rules.TotalQuotite)
	}
	return nil
}
