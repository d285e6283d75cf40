// Package guardrails enforces execution safety limits: cost,
// duration, heartbeat liveness, and file scope.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/COORDINATOR/internal/types"
)

// Actions a guardrail check can demand.
const (
	ActionContinue = "continue"
	ActionWarn     = "warn"
	ActionKill     = "kill"
)

// warnRatio is the fraction of a limit at which a warning fires.
const warnRatio = 0.8

// Result is the verdict of a single guardrail check.
type Result struct {
	Passed    bool   `json:"passed"`
	Violation string `json:"violation,omitempty"`
	Action    string `json:"action"`
}

func pass() Result {
	return Result{Passed: true, Action: ActionContinue}
}

// Guardrails holds the configured limits. A nil MaxCost disables the
// cost check; nil AllowedGlobs allows every path.
type Guardrails struct {
	MaxCost          *float64
	MaxDuration      time.Duration
	AllowedGlobs     []string
	HeartbeatTimeout time.Duration
}

// New returns guardrails with the default limits: no cost cap, five
// minute duration, one minute heartbeat, unrestricted scope.
func New() *Guardrails {
	return &Guardrails{
		MaxDuration:      300 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
	}
}

// FromConfig builds guardrails from the loaded configuration. A zero
// cost limit means unlimited.
func FromConfig(cfg types.GuardrailConfig) *Guardrails {
	g := New()
	if cfg.MaxCostUSD > 0 {
		max := cfg.MaxCostUSD
		g.MaxCost = &max
	}
	if cfg.MaxDurationSec > 0 {
		g.MaxDuration = time.Duration(cfg.MaxDurationSec) * time.Second
	}
	if cfg.HeartbeatTimeout > 0 {
		g.HeartbeatTimeout = time.Duration(cfg.HeartbeatTimeout) * time.Second
	}
	g.AllowedGlobs = cfg.AllowedGlobs
	return g
}

// CheckCost compares accumulated cost against the limit.
func (g *Guardrails) CheckCost(currentCost float64) Result {
	if g.MaxCost == nil {
		return pass()
	}

	if currentCost > *g.MaxCost {
		return Result{
			Passed:    false,
			Violation: fmt.Sprintf("Cost limit exceeded: %.2f > %.2f", currentCost, *g.MaxCost),
			Action:    ActionKill,
		}
	}
	if currentCost >= *g.MaxCost*warnRatio {
		return Result{
			Passed:    true,
			Violation: fmt.Sprintf("Cost approaching limit: %.2f / %.2f", currentCost, *g.MaxCost),
			Action:    ActionWarn,
		}
	}
	return pass()
}

// CheckDuration compares elapsed time against the duration limit.
func (g *Guardrails) CheckDuration(elapsed time.Duration) Result {
	limit := int(g.MaxDuration.Seconds())
	seconds := int(elapsed.Seconds())

	if elapsed > g.MaxDuration {
		return Result{
			Passed:    false,
			Violation: fmt.Sprintf("Duration limit exceeded: %ds > %ds", seconds, limit),
			Action:    ActionKill,
		}
	}
	if elapsed.Seconds() >= g.MaxDuration.Seconds()*warnRatio {
		return Result{
			Passed:    true,
			Violation: fmt.Sprintf("Duration approaching limit: %ds / %ds", seconds, limit),
			Action:    ActionWarn,
		}
	}
	return pass()
}

// CheckHeartbeat verifies the agent reported within the liveness
// window.
func (g *Guardrails) CheckHeartbeat(lastHeartbeat, now time.Time) Result {
	elapsed := now.Sub(lastHeartbeat)

	if elapsed > g.HeartbeatTimeout {
		return Result{
			Passed:    false,
			Violation: fmt.Sprintf("Heartbeat timeout: %.0fs since last heartbeat", elapsed.Seconds()),
			Action:    ActionKill,
		}
	}
	if elapsed.Seconds() >= g.HeartbeatTimeout.Seconds()*warnRatio {
		return Result{
			Passed: true,
			Violation: fmt.Sprintf("Heartbeat approaching timeout: %.0fs / %ds",
				elapsed.Seconds(), int(g.HeartbeatTimeout.Seconds())),
			Action: ActionWarn,
		}
	}
	return pass()
}

// CheckScope verifies a file path matches an allowed glob.
func (g *Guardrails) CheckScope(filePath string) Result {
	if g.AllowedGlobs == nil {
		return pass()
	}

	for _, pattern := range g.AllowedGlobs {
		if globMatch(filePath, pattern) {
			return pass()
		}
	}
	return Result{
		Passed:    false,
		Violation: fmt.Sprintf("File path outside allowed scope: %s", filePath),
		Action:    ActionKill,
	}
}

// CheckAll runs every check. The scope check only runs when a file
// path is given.
func (g *Guardrails) CheckAll(currentCost float64, elapsed time.Duration, filePath string, lastHeartbeat, now time.Time) []Result {
	results := []Result{
		g.CheckCost(currentCost),
		g.CheckDuration(elapsed),
		g.CheckHeartbeat(lastHeartbeat, now),
	}
	if filePath != "" {
		results = append(results, g.CheckScope(filePath))
	}
	return results
}

// globMatch matches a path against a glob pattern. `**/` crosses any
// number of directories, `*` and `?` stay within one path segment.
func globMatch(path, pattern string) bool {
	var regex strings.Builder
	regex.WriteString("^")

	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			regex.WriteString("(?:[^/]+/)*")
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			regex.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			regex.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			regex.WriteString("[^/]")
			i++
		case strings.ContainsRune(`.+^${}|()\[]`, rune(pattern[i])):
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}
	regex.WriteString("$")

	re, err := regexp.Compile(regex.String())
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
