package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region fixture-types

// Fixture is a set of recorded inputs with the plan traits they must keep.
type Fixture struct {
	Description string        `json:"description"`
	Cases       []FixtureCase `json:"cases"`
}

// FixtureCase is one input and its expected plan traits.
type FixtureCase struct {
	Name   string       `json:"name"`
	Input  runctx.Input `json:"input"`
	Expect Expectation  `json:"expect"`
}

// Expectation lists the plan fields a fixture pins.
type Expectation struct {
	Tier           string            `json:"tier"`
	Mode           plan.ResponseMode `json:"mode"`
	Needs          []plan.Need       `json:"needs"`
	SelfDisclosure bool              `json:"self_disclosure"`
	SelfHarm       bool              `json:"self_harm"`
}

// Mismatch is one fixture expectation that did not hold.
type Mismatch struct {
	Case  string
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s want %s, got %s", m.Case, m.Field, m.Want, m.Got)
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// #endregion fixture-loader

// #region fixture-check

// Check plans every case in prod and debug mode. It reports expectation
// failures and any case where the two modes plan differently.
func (f *Fixture) Check(ctx context.Context, planner *plan.Planner) []Mismatch {
	var out []Mismatch
	for _, c := range f.Cases {
		prod := planner.BuildPlan(ctx, runctx.New(rebuild(c.Input, runctx.ModeProd, "")))
		debug := planner.BuildPlan(ctx, runctx.New(rebuild(c.Input, runctx.ModeDebug, "")))
		if d := DiffPlans(prod, debug); d != "" {
			out = append(out, Mismatch{Case: c.Name, Field: "debug plan", Want: "identical to prod", Got: d})
		}
		out = append(out, c.Expect.compare(c.Name, prod)...)
	}
	return out
}

func (e Expectation) compare(name string, p plan.Plan) []Mismatch {
	var out []Mismatch
	check := func(field string, want, got any) {
		w, g := fmt.Sprint(want), fmt.Sprint(got)
		if w != g {
			out = append(out, Mismatch{Case: name, Field: field, Want: w, Got: g})
		}
	}
	if e.Tier != "" {
		check("tier", e.Tier, p.Tier)
	}
	if e.Mode != "" {
		check("mode", e.Mode, p.Response.Mode)
	}
	if e.Needs != nil && !slices.Equal(e.Needs, p.Retrieval.Needs) {
		check("needs", e.Needs, p.Retrieval.Needs)
	}
	check("self_disclosure", e.SelfDisclosure, p.Response.SelfDisclosure)
	check("self_harm", e.SelfHarm, p.Response.Safety.SelfHarm)
	return out
}

// #endregion fixture-check
