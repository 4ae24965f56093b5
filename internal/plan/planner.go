// Package plan implements the Ingress stage: message normalization, scripture
// entity extraction and the tiered planner that produces exactly one Plan per run.
package plan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region tiers

// Tier is one step of the planning cascade. Attempt returns nil to yield to
// the next tier; an error is logged and also yields.
type Tier struct {
	Name    string
	Attempt func(ctx context.Context, in tierInput) (*Plan, error)
}

// tierInput is what every tier sees.
type tierInput struct {
	rc       *runctx.RunContext
	message  string
	entities []runctx.EntityRef
	analysis analysis
}

// RuleTier is the deterministic keyword/regex tier.
func RuleTier() Tier {
	return Tier{Name: "rules", Attempt: func(_ context.Context, in tierInput) (*Plan, error) {
		if in.rc.Entrypoint().IsSessionStart() {
			return sessionStartPlan(in), nil
		}
		return rulePlan(in), nil
	}}
}

// LLMTier is the constrained-completion tier.
func LLMTier(client llm.Client, model string, timeout time.Duration) Tier {
	t := &llmTier{client: client, model: model, maxTokens: 300, timeout: timeout}
	return Tier{Name: "llm", Attempt: t.attempt}
}

// #endregion tiers

// #region planner

// Planner runs an ordered tier cascade and falls back to a safe default plan.
type Planner struct {
	tiers []Tier
}

// NewPlanner builds a planner from tiers, tried in order.
func NewPlanner(tiers ...Tier) *Planner {
	return &Planner{tiers: tiers}
}

// Default returns rules then, when client is non-nil, the LLM tier.
func Default(client llm.Client, model string, timeout time.Duration) *Planner {
	tiers := []Tier{RuleTier()}
	if client != nil {
		tiers = append(tiers, LLMTier(client, model, timeout))
	}
	return NewPlanner(tiers...)
}

// BuildPlan never fails: when every tier yields, the hard fallback is returned.
func (p *Planner) BuildPlan(ctx context.Context, rc *runctx.RunContext) Plan {
	msg := Normalize(rc.Message())
	entities := mergeEntities(rc.Entities(), ExtractEntities(msg))
	in := tierInput{
		rc:       rc,
		message:  msg,
		entities: entities,
		analysis: analyze(msg, scopeFromEntities(entities)),
	}
	log := rc.Logger()

	for _, t := range p.tiers {
		plan, err := p.try(ctx, t, in)
		if err != nil {
			log.Debug("plan.tier_failed", zap.String("tier", t.Name), zap.Error(err))
			continue
		}
		if plan == nil {
			log.Debug("plan.tier_yielded", zap.String("tier", t.Name))
			continue
		}
		return finish(*plan, t.Name, in)
	}
	return finish(hardFallback(in), "hard_fallback", in)
}

// try isolates a tier so a panic degrades like an error.
func (p *Planner) try(ctx context.Context, t Tier, in tierInput) (plan *Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, &tierPanic{tier: t.Name, value: r}
		}
	}()
	return t.Attempt(ctx, in)
}

type tierPanic struct {
	tier  string
	value any
}

func (e *tierPanic) Error() string { return "plan: tier " + e.tier + " panicked" }

func finish(p Plan, tier string, in tierInput) Plan {
	p.Tier = tier
	p.NormalizedMessage = in.message
	p.Entities = in.entities
	if p.Retrieval.Needs == nil {
		p.Retrieval.Needs = []Need{}
	}
	if p.Retrieval.Limits == nil {
		p.Retrieval.Limits = map[Need]int{}
	}
	if p.Response.Mode == "" {
		p.Response.Mode = ModeExplain
	}
	return p
}

// hardFallback is the last tier: explain, short, no retrieval.
func hardFallback(in tierInput) Plan {
	a := in.analysis
	return Plan{
		Response: ResponsePlan{
			Mode:           ModeExplain,
			Length:         LengthShort,
			Safety:         a.safety,
			SelfDisclosure: a.selfDisclosure,
			Situational:    a.situational,
			Signals:        append([]string{"hard_fallback"}, a.signals()...),
			Source:         SourceRules,
			Confidence:     0.3,
		},
		Retrieval: RetrievalPlan{
			Needs:    []Need{},
			Temporal: a.temporal,
			Scope:    a.scope,
			Query:    in.message,
			Limits:   map[Need]int{},
		},
	}
}

// #endregion planner
