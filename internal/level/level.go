// Package level maps point totals onto the ordered tier table.
// Everything here is pure; the ledger stores only the derived label.
package level

import "fmt"

// Tier is one band of the level table. Max is nil for the unbounded top tier.
type Tier struct {
	Name      string `json:"name"`
	Glyph     string `json:"emoji"`
	MinPoints int64  `json:"minPoints"`
	MaxPoints *int64 `json:"maxPoints"`
}

// Label is the cached display form stored on the user row.
func (t Tier) Label() string {
	return fmt.Sprintf("%s %s", t.Glyph, t.Name)
}

func bound(v int64) *int64 { return &v }

// tiers must stay contiguous, ascending by MinPoints, with an unbounded last entry.
var tiers = []Tier{
	{Name: "Seed Planter", Glyph: "🌱", MinPoints: 0, MaxPoints: bound(499)},
	{Name: "Root Grower", Glyph: "🌿", MinPoints: 500, MaxPoints: bound(999)},
	{Name: "Bloom Tender", Glyph: "🌸", MinPoints: 1000, MaxPoints: bound(1999)},
	{Name: "Forest Guardian", Glyph: "🌳", MinPoints: 2000, MaxPoints: bound(4999)},
	{Name: "Nature Sage", Glyph: "🍃", MinPoints: 5000, MaxPoints: nil},
}

// Tiers returns a copy of the tier table, lowest first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// Lowest returns the entry tier assigned to new wallets.
func Lowest() Tier {
	return tiers[0]
}

// ResolveTier returns the highest tier whose MinPoints <= points.
// Negative totals fall back to the lowest tier.
func ResolveTier(points int64) Tier {
	for i := len(tiers) - 1; i >= 0; i-- {
		if points >= tiers[i].MinPoints {
			return tiers[i]
		}
	}
	return tiers[0]
}

// NextTier returns the tier directly above t. ok is false at the top or
// when t is not part of the table.
func NextTier(t Tier) (next Tier, ok bool) {
	for i := range tiers {
		if tiers[i].Name == t.Name {
			if i == len(tiers)-1 {
				return Tier{}, false
			}
			return tiers[i+1], true
		}
	}
	return Tier{}, false
}

// Progress returns how far points has moved from t towards next, in [0,100].
// A nil next means t is the top tier and progress is complete.
func Progress(points int64, t Tier, next *Tier) float64 {
	if next == nil {
		return 100
	}
	span := next.MinPoints - t.MinPoints
	if span <= 0 {
		return 100
	}
	pct := float64(points-t.MinPoints) / float64(span) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Standing bundles the derived level view for a point total.
type Standing struct {
	Current  Tier
	Next     *Tier
	Progress float64
}

// Describe resolves the tier, its successor and the progress for points.
func Describe(points int64) Standing {
	current := ResolveTier(points)
	s := Standing{Current: current}
	if next, ok := NextTier(current); ok {
		s.Next = &next
	}
	s.Progress = Progress(points, current, s.Next)
	return s
}
