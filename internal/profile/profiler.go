package profile

import (
	"errors"
	"strings"

	"github.com/COORDINATOR/internal/types"
)

// ErrEmptyDescription is returned when a task description is blank.
var ErrEmptyDescription = errors.New("task description cannot be empty")

// Context carries optional flags that post-modify a heuristic profile.
type Context struct {
	IsCritical    bool
	TimeSensitive bool
	HighStakes    bool
}

// Classifier maps a task description to a profile. The heuristic
// implementation below is the default; callers may inject their own.
type Classifier interface {
	Classify(description string, ctx Context) (types.TaskProfile, error)
}

type band struct {
	keywords []string
	score    float64
}

// Keyword bands per dimension. First matching band wins; the final
// entry with no keywords is the default.
var complexityBands = []band{
	{[]string{"implement", "design", "architect", "optimize", "refactor", "research", "analyze", "synthesize"}, 0.7},
	{[]string{"update", "modify", "integrate", "configure", "debug", "test"}, 0.5},
	{[]string{"read", "check", "view", "list", "display", "print", "get", "fetch"}, 0.2},
	{nil, 0.5},
}

var criticalityBands = []band{
	{[]string{"security", "authentication", "payment", "data loss", "crash", "production", "critical"}, 0.8},
	{[]string{"user experience", "performance", "feature", "important"}, 0.5},
	{[]string{"cosmetic", "minor", "optional", "nice to have"}, 0.2},
	{nil, 0.4},
}

var uncertaintyBands = []band{
	{[]string{"explore", "investigate", "research", "unclear", "ambiguous", "unknown"}, 0.8},
	{[]string{"figure out", "decide", "choose", "determine"}, 0.5},
	{[]string{"implement", "following spec", "as described", "specified"}, 0.2},
	{nil, 0.5},
}

var verifiabilityBands = []band{
	{[]string{"test", "verify", "check", "validate"}, 0.8},
	{[]string{"design", "choose", "decide"}, 0.4},
	{nil, 0.6},
}

var reversibilityBands = []band{
	{[]string{"delete", "drop", "remove", "deploy", "publish"}, 0.3},
	{[]string{"code", "implement", "refactor", "update"}, 0.8},
	{nil, 0.6},
}

var costBands = []band{
	{[]string{"api", "llm", "model", "compute"}, 0.6},
	{nil, 0.3},
}

var resourceBands = []band{
	{[]string{"integrate", "connect", "api", "database", "service"}, 0.6},
	{nil, 0.4},
}

var constraintBands = []band{
	{[]string{"must", "required", "constraint", "limitation"}, 0.6},
	{nil, 0.3},
}

var contextualityBands = []band{
	{[]string{"existing", "current", "integrate with", "based on"}, 0.7},
	{nil, 0.4},
}

var subjectivityBands = []band{
	{[]string{"design", "ux", "ui", "choose", "aesthetic"}, 0.7},
	{[]string{"implement", "algorithm", "optimize", "test"}, 0.3},
	{nil, 0.5},
}

func scoreBands(text string, bands []band) float64 {
	for _, b := range bands {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				return b.score
			}
		}
		if b.keywords == nil {
			return b.score
		}
	}
	return 0.5
}

// HeuristicClassifier scores each profile dimension from fixed keyword
// dictionaries.
type HeuristicClassifier struct{}

// Classify builds a TaskProfile from the description and context flags.
func (HeuristicClassifier) Classify(description string, ctx Context) (types.TaskProfile, error) {
	if strings.TrimSpace(description) == "" {
		return types.TaskProfile{}, ErrEmptyDescription
	}

	text := strings.ToLower(description)

	p := types.TaskProfile{
		Complexity:           scoreBands(text, complexityBands),
		Criticality:          scoreBands(text, criticalityBands),
		Uncertainty:          scoreBands(text, uncertaintyBands),
		Verifiability:        scoreBands(text, verifiabilityBands),
		Reversibility:        scoreBands(text, reversibilityBands),
		Cost:                 scoreBands(text, costBands),
		ResourceRequirements: scoreBands(text, resourceBands),
		Constraints:          scoreBands(text, constraintBands),
		Contextuality:        scoreBands(text, contextualityBands),
		Subjectivity:         scoreBands(text, subjectivityBands),
	}
	p.Duration = min(1.0, p.Complexity+0.1)

	if ctx.IsCritical {
		p.Criticality = max(p.Criticality, 0.7)
	}
	if ctx.TimeSensitive {
		p.Duration = max(p.Duration, 0.6)
	}
	if ctx.HighStakes {
		p.Reversibility = min(p.Reversibility, 0.4)
	}

	return p, nil
}

// Profiler wraps an optional custom classifier over the heuristics.
type Profiler struct {
	custom Classifier
}

// NewProfiler returns a profiler; custom may be nil.
func NewProfiler(custom Classifier) *Profiler {
	return &Profiler{custom: custom}
}

// Classify tries the custom classifier first and falls back to
// heuristics on any failure.
func (pr *Profiler) Classify(description string, ctx Context) (types.TaskProfile, error) {
	if strings.TrimSpace(description) == "" {
		return types.TaskProfile{}, ErrEmptyDescription
	}

	if pr.custom != nil {
		if p, err := pr.custom.Classify(description, ctx); err == nil && p.Valid() {
			return p, nil
		}
	}

	return HeuristicClassifier{}.Classify(description, ctx)
}

// DelegationOverhead estimates the relative cost of delegating a task
// instead of executing it directly. Trivial tasks short-circuit to 0.1.
func DelegationOverhead(p types.TaskProfile) float64 {
	if p.Complexity < 0.2 {
		return 0.1
	}
	overhead := 1.0 - (0.5*p.Complexity + 0.3*p.Duration + 0.2*p.Cost)
	return clamp(overhead)
}

// RiskScore combines criticality, irreversibility, and uncertainty.
func RiskScore(p types.TaskProfile) float64 {
	return 0.5*p.Criticality + 0.3*(1.0-p.Reversibility) + 0.2*p.Uncertainty
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
