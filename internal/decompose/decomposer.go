package decompose

import (
	"strconv"
	"strings"

	"github.com/COORDINATOR/internal/types"
	"github.com/google/uuid"
)

const (
	// MinVerifiability is the floor below which a subtask must be
	// decomposed further.
	MinVerifiability = 0.3

	// MaxDepth bounds the recursion; at the bound a single
	// forced-verifiable leaf is emitted instead of recursing.
	MaxDepth = 4
)

// DecomposeFunc optionally replaces the template heuristics. On error
// the decomposer silently falls back.
type DecomposeFunc func(task string, profile types.TaskProfile) ([]types.SubTask, error)

// Decomposer splits tasks into verifiable subtasks, contract-first.
type Decomposer struct {
	custom DecomposeFunc
}

// New returns a decomposer; custom may be nil.
func New(custom DecomposeFunc) *Decomposer {
	return &Decomposer{custom: custom}
}

type childTemplate struct {
	description  string
	verification string
	cost         float64
	duration     float64
	parallelSafe bool
	dependsOn    int // index of sibling dependency, -1 for none
}

var buildTemplate = []childTemplate{
	{"Design architecture", types.VerifyHumanReview, 0.4, 0.3, false, -1},
	{"Implement core", types.VerifyAutomatedTest, 0.5, 0.6, false, 0},
	{"Add tests", types.VerifyAutomatedTest, 0.3, 0.3, false, 1},
	{"Deploy and verify", types.VerifyGroundTruth, 0.4, 0.4, false, 2},
}

var researchTemplate = []childTemplate{
	{"Survey", types.VerifyHumanReview, 0.3, 0.4, true, -1},
	{"Analyze", types.VerifySemanticSimilarity, 0.4, 0.5, false, 0},
	{"Synthesize", types.VerifyHumanReview, 0.5, 0.4, false, 1},
}

var implementTemplate = []childTemplate{
	{"Plan", types.VerifyHumanReview, 0.3, 0.2, false, -1},
	{"Write code", types.VerifyAutomatedTest, 0.5, 0.6, false, 0},
	{"Add tests", types.VerifyAutomatedTest, 0.3, 0.3, false, 1},
}

var genericTemplate = []childTemplate{
	{"Understand requirements", types.VerifyHumanReview, 0.2, 0.2, false, -1},
	{"Execute main task", types.VerifyAutomatedTest, 0.6, 0.6, false, 0},
	{"Verify", types.VerifyGroundTruth, 0.3, 0.2, false, 1},
}

func selectTemplate(task string) []childTemplate {
	text := strings.ToLower(task)
	switch {
	case containsAny(text, "build", "create", "develop", "implement system"):
		return buildTemplate
	case containsAny(text, "research", "investigate", "explore", "analyze"):
		return researchTemplate
	case containsAny(text, "implement", "code", "write"):
		return implementTemplate
	default:
		return genericTemplate
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Decompose splits a task until every leaf meets the verifiability
// floor, bounded at MaxDepth. Dependency back-propagation always runs,
// whichever path produced the subtasks.
func (d *Decomposer) Decompose(task string, profile types.TaskProfile) []types.SubTask {
	subtasks := d.decompose(task, profile, "", 0)
	analyzeDependencies(subtasks)
	return subtasks
}

func (d *Decomposer) decompose(task string, profile types.TaskProfile, parentID string, depth int) []types.SubTask {
	if depth >= MaxDepth {
		// Cannot recurse further: emit one leaf whose verifiability is
		// pinned to the floor and route it to human review.
		return []types.SubTask{{
			ID:                 newSubtaskID(),
			Description:        task,
			VerificationMethod: types.VerifyHumanReview,
			EstimatedCost:      0.3,
			EstimatedDuration:  0.3,
			ParallelSafe:       true,
			ParentID:           parentID,
			Dependencies:       []string{},
			Profile:            forcedVerifiable(profile),
			Metadata: map[string]string{
				"forced_verifiable": "true",
				"depth":             strconv.Itoa(depth),
			},
		}}
	}

	children := d.childrenFor(task, profile, parentID)

	// Recurse on children still below the verifiability floor; custom
	// decompositions get the same treatment as template ones.
	result := make([]types.SubTask, 0, len(children))
	for _, child := range children {
		if child.Profile.Verifiability < MinVerifiability {
			result = append(result, d.decompose(child.Description, child.Profile, child.ID, depth+1)...)
			continue
		}
		result = append(result, child)
	}

	return result
}

// childrenFor produces one level of subtasks: the custom function when
// present and successful, otherwise the matching template.
func (d *Decomposer) childrenFor(task string, profile types.TaskProfile, parentID string) []types.SubTask {
	if d.custom != nil {
		if subtasks, err := d.custom(task, profile); err == nil && len(subtasks) > 0 {
			for i := range subtasks {
				if subtasks[i].ParentID == "" {
					subtasks[i].ParentID = parentID
				}
			}
			return subtasks
		}
	}

	template := selectTemplate(task)
	children := make([]types.SubTask, 0, len(template))

	for _, tmpl := range template {
		child := types.SubTask{
			ID:                 newSubtaskID(),
			Description:        tmpl.description + " for: " + truncate(task, 50),
			VerificationMethod: tmpl.verification,
			EstimatedCost:      tmpl.cost,
			EstimatedDuration:  tmpl.duration,
			ParallelSafe:       tmpl.parallelSafe,
			ParentID:           parentID,
			Dependencies:       []string{},
			Profile:            childProfile(profile, tmpl),
		}
		if tmpl.dependsOn >= 0 && tmpl.dependsOn < len(children) {
			child.Dependencies = append(child.Dependencies, children[tmpl.dependsOn].ID)
		}
		children = append(children, child)
	}
	return children
}

// childProfile derives a child's profile from its parent per the fixed
// template adjustments.
func childProfile(parent types.TaskProfile, tmpl childTemplate) types.TaskProfile {
	return types.TaskProfile{
		Complexity:           max(0.2, 0.6*parent.Complexity),
		Criticality:          parent.Criticality,
		Uncertainty:          max(0.2, 0.7*parent.Uncertainty),
		Duration:             tmpl.duration,
		Cost:                 tmpl.cost,
		ResourceRequirements: 0.5 * parent.ResourceRequirements,
		Constraints:          0.5 * parent.Constraints,
		Verifiability:        0.7,
		Reversibility:        max(0.5, parent.Reversibility),
		Contextuality:        0.6 * parent.Contextuality,
		Subjectivity:         0.5 * parent.Subjectivity,
	}
}

func forcedVerifiable(p types.TaskProfile) types.TaskProfile {
	p.Verifiability = MinVerifiability
	return p
}

// analyzeDependencies clears parallel_safe on any subtask whose
// dependency is missing or not parallel-safe, iterating to fixed point.
func analyzeDependencies(subtasks []types.SubTask) {
	byID := make(map[string]int, len(subtasks))
	for i, st := range subtasks {
		byID[st.ID] = i
	}

	for changed := true; changed; {
		changed = false
		for i := range subtasks {
			if !subtasks[i].ParallelSafe {
				continue
			}
			for _, dep := range subtasks[i].Dependencies {
				j, ok := byID[dep]
				if !ok || !subtasks[j].ParallelSafe {
					subtasks[i].ParallelSafe = false
					changed = true
					break
				}
			}
		}
	}
}

func newSubtaskID() string {
	return "subtask-" + uuid.New().String()[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

