package voting

import (
	"sort"

	"github.com/holiman/uint256"

	"oracleflow/units"
)

// RevealedVote is a (price, stake) pair entering the median.
type RevealedVote struct {
	Voter string
	Price int64
	Stake *uint256.Int
}

// StakeWeightedMedian sorts by price and returns the first price at which the
// cumulative stake reaches half of the total. A midpoint that falls exactly on
// the boundary between two prices yields the lower one. ok is false for no votes.
func StakeWeightedMedian(votes []RevealedVote) (price int64, ok bool) {
	if len(votes) == 0 {
		return 0, false
	}
	sorted := make([]RevealedVote, len(votes))
	copy(sorted, votes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	total := new(uint256.Int)
	for _, v := range sorted {
		total.Add(total, v.Stake)
	}

	running := new(uint256.Int)
	doubled := new(uint256.Int)
	for _, v := range sorted {
		running.Add(running, v.Stake)
		doubled.Lsh(running, 1)
		if !doubled.Lt(total) {
			return v.Price, true
		}
	}
	return sorted[len(sorted)-1].Price, true
}

// Release is what a voter gets back after resolution.
type Release struct {
	Voter   string
	Stake   *uint256.Int
	Penalty *uint256.Int
	Reward  *uint256.Int
	Amount  *uint256.Int
}

// Settlement is the full distribution of a request's committed stake.
// Sum(Releases.Amount) + Treasury equals the committed stake.
type Settlement struct {
	Releases []Release
	Slashed  *uint256.Int
	Treasury *uint256.Int
}

// ComputeSlashing penalizes every vote that was not revealed at the resolved price by
// slashRateBps of its stake. treasuryBps of the pool goes to the treasury, the
// rest is split pro-rata among correct voters; rounding remainders go to the treasury.
func ComputeSlashing(votes []Vote, resolved int64, slashRateBps, treasuryBps uint32) (Settlement, error) {
	out := Settlement{Slashed: units.Zero(), Treasury: units.Zero()}
	correctStake := units.Zero()

	for _, v := range votes {
		r := Release{Voter: v.Voter, Stake: v.Stake.Clone(), Penalty: units.Zero(), Reward: units.Zero()}
		if v.Revealed && v.Price != nil && *v.Price == resolved {
			correctStake.Add(correctStake, v.Stake)
		} else {
			r.Penalty = units.Bps(v.Stake, slashRateBps)
			out.Slashed.Add(out.Slashed, r.Penalty)
		}
		out.Releases = append(out.Releases, r)
	}

	out.Treasury = units.Bps(out.Slashed, treasuryBps)
	pool := new(uint256.Int).Sub(out.Slashed, out.Treasury)

	distributed := units.Zero()
	for i := range out.Releases {
		r := &out.Releases[i]
		if r.Penalty.IsZero() && !pool.IsZero() && !correctStake.IsZero() && isCorrect(votes[i], resolved) {
			reward, err := units.MulDiv(pool, r.Stake, correctStake)
			if err != nil {
				return Settlement{}, err
			}
			r.Reward = reward
			distributed.Add(distributed, reward)
		}
		amount := new(uint256.Int).Sub(r.Stake, r.Penalty)
		r.Amount = amount.Add(amount, r.Reward)
	}

	// rounding dust, or the whole pool when nobody voted correctly
	out.Treasury.Add(out.Treasury, new(uint256.Int).Sub(pool, distributed))
	return out, nil
}

// Unslashed returns every stake in full.
func Unslashed(votes []Vote) Settlement {
	out := Settlement{Slashed: units.Zero(), Treasury: units.Zero()}
	for _, v := range votes {
		out.Releases = append(out.Releases, Release{
			Voter:   v.Voter,
			Stake:   v.Stake.Clone(),
			Penalty: units.Zero(),
			Reward:  units.Zero(),
			Amount:  v.Stake.Clone(),
		})
	}
	return out
}

func isCorrect(v Vote, resolved int64) bool {
	return v.Revealed && v.Price != nil && *v.Price == resolved
}
