// Package rewards implements the d100 bonus roll attached to every completion.
package rewards

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/quantumlife/habits/internal/core"
)

// Die is the number of faces on the reward die. Draws are in [1, Die].
const Die = 100

// Tier is a bonus band selected when the draw is at least MinRoll.
type Tier struct {
	MinRoll int    `json:"min_roll" yaml:"min_roll"`
	Label   string `json:"label" yaml:"label"`
	BonusXP int    `json:"bonus_xp" yaml:"bonus_xp"`
	Item    string `json:"item,omitempty" yaml:"item,omitempty"`
}

// Config holds the tier table.
type Config struct {
	Tiers []Tier `json:"tiers" yaml:"tiers"`
}

// DefaultConfig returns the standard three-band table.
func DefaultConfig() Config {
	return Config{
		Tiers: []Tier{
			{MinRoll: 95, Label: "legendary", BonusXP: 30, Item: "Lucky Charm"},
			{MinRoll: 85, Label: "epic", BonusXP: 15, Item: "Energy Potion"},
			{MinRoll: 70, Label: "rare", BonusXP: 5},
		},
	}
}

// Validate checks that every tier threshold is a possible draw.
func (c Config) Validate() error {
	seen := make(map[int]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.MinRoll < 1 || t.MinRoll > Die {
			return fmt.Errorf("%w: tier %q min_roll %d outside [1,%d]", core.ErrInvalidInput, t.Label, t.MinRoll, Die)
		}
		if seen[t.MinRoll] {
			return fmt.Errorf("%w: duplicate tier threshold %d", core.ErrInvalidInput, t.MinRoll)
		}
		seen[t.MinRoll] = true
	}
	return nil
}

// Result is the outcome of one roll.
type Result struct {
	Roll    int    `json:"roll"`
	Gold    int    `json:"gold"`
	Tier    string `json:"tier,omitempty"`
	BonusXP int    `json:"bonus_xp"`
	Item    string `json:"item,omitempty"`
}

// Source draws integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Roller draws from a Source and applies the tier table.
type Roller struct {
	tiers []Tier

	mu  sync.Mutex
	src Source
}

// NewRoller creates a roller. A nil source uses the process-wide generator.
func NewRoller(cfg Config, src Source) *Roller {
	if src == nil {
		src = globalSource{}
	}
	tiers := append([]Tier(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinRoll > tiers[j].MinRoll })
	return &Roller{tiers: tiers, src: src}
}

// NewSeeded creates a roller with a reproducible PCG stream.
func NewSeeded(cfg Config, seed uint64) *Roller {
	return NewRoller(cfg, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Draw returns a uniform integer in [1, Die].
func (r *Roller) Draw() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(Die) + 1
}

// Roll draws once and resolves the result for baseXP.
func (r *Roller) Roll(baseXP int) Result {
	return r.RollWith(r.Draw(), baseXP)
}

// RollWith resolves a given draw. It is a pure function of its inputs.
func (r *Roller) RollWith(draw, baseXP int) Result {
	res := Result{Roll: draw, Gold: Gold(draw, baseXP)}
	for _, t := range r.tiers {
		if draw >= t.MinRoll {
			res.Tier = t.Label
			res.BonusXP = t.BonusXP
			res.Item = t.Item
			break
		}
	}
	return res
}

// Tiers returns the table from highest threshold to lowest.
func (r *Roller) Tiers() []Tier {
	return append([]Tier(nil), r.tiers...)
}

// Gold maps a draw in [1, Die] linearly onto [baseXP, 2*baseXP].
func Gold(draw, baseXP int) int {
	if baseXP <= 0 {
		return 0
	}
	if draw < 1 {
		draw = 1
	}
	if draw > Die {
		draw = Die
	}
	return baseXP + baseXP*(draw-1)/(Die-1)
}
