package scoring

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/COORDINATOR/internal/types"
)

// ComplexityResult is the analyzed complexity of one query.
type ComplexityResult struct {
	Score     float64 `json:"score"`
	Model     string  `json:"model"`
	Reasoning string  `json:"reasoning"`
}

type signalCategory struct {
	name     string
	keywords []string
	weight   float64
}

var signalCategories = []signalCategory{
	{"code", []string{"function", "class", "async", "import", "export", "const", "let", "var", "interface", "type", "enum", "module", "require", "def ", "return"}, 0.15},
	{"architecture", []string{"design", "architecture", "system", "refactor", "restructure", "pattern", "microservice", "distributed", "scalable", "optimize"}, 0.25},
	{"debug", []string{"error", "fix", "bug", "debug", "why", "not working", "broken", "crash", "exception", "failed", "issue", "problem"}, 0.10},
	{"multiFile", []string{"across", "all files", "every", "multiple", "entire codebase", "project-wide", "refactor all", "update all"}, 0.20},
	{"analysis", []string{"analyze", "review", "audit", "compare", "evaluate", "assess", "investigate", "research", "study", "understand"}, 0.15},
	{"creation", []string{"create", "build", "implement", "develop", "write", "generate", "make", "add", "new feature", "from scratch"}, 0.10},
	{"simple", []string{"what is", "how to", "explain", "show me", "list", "print", "hello", "thanks", "yes", "no", "ok"}, -0.15},
}

var projectContextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(this|our|my|the)\s+\w+\s+(file|code|project|app|component)`),
	regexp.MustCompile(`\bin\s+(this|the)\s+(codebase|repo|project)`),
	regexp.MustCompile(`\bcurrent\s+(file|directory|project)`),
}

var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hi|hello|hey|thanks|thank you|ok|okay|yes|no|sure)`),
	regexp.MustCompile(`^what (is|are) \w+\??$`),
	regexp.MustCompile(`^(how|can|could) (do|can) (i|you)`),
}

// AnalyzeComplexity scores a query in [0,1] from token length and
// keyword-category signals, and picks the model tier for that score.
func AnalyzeComplexity(query string) ComplexityResult {
	text := strings.ToLower(query)
	var reasons []string

	// Token length band, 4-char token approximation.
	tokens := len(query) / 4
	if tokens < 1 {
		tokens = 1
	}
	var score float64
	switch {
	case tokens <= 20:
		score = 0.10
	case tokens <= 100:
		score = 0.30
	case tokens <= 500:
		score = 0.60
	default:
		score = 0.90
	}
	reasons = append(reasons, fmt.Sprintf("%d tokens", tokens))

	// Keyword categories, each capped at three matches.
	for _, cat := range signalCategories {
		count := 0
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		if count > 3 {
			count = 3
		}
		score += cat.weight * float64(count)
		reasons = append(reasons, fmt.Sprintf("%s signals (%d)", cat.name, count))
	}

	for _, re := range projectContextPatterns {
		if re.MatchString(text) {
			score += 0.15
			reasons = append(reasons, "project context")
			break
		}
	}

	if len(query) < 50 {
		for _, re := range conversationalPatterns {
			if re.MatchString(text) {
				score -= 0.20
				reasons = append(reasons, "conversational")
				break
			}
		}
	}

	score = clamp01(score)
	score = round3(score)

	model := types.TierOpus
	switch {
	case score < 0.25:
		model = types.TierHaiku
	case score < 0.60:
		model = types.TierSonnet
	}

	return ComplexityResult{
		Score:     score,
		Model:     model,
		Reasoning: strings.Join(reasons, "; "),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
