// Package executor spawns model agents as CLI subprocesses, coordinates
// their file locks, and tracks their lifecycle through the registry.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/COORDINATOR/internal/locks"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/types"
)

// MaxPromptLength bounds prompt size before it reaches the CLI.
const MaxPromptLength = 50000

// DefaultMaxWorkers bounds parallel spawns.
const DefaultMaxWorkers = 5

// ModelMap resolves tier names to vendor model identifiers.
var ModelMap = map[string]string{
	types.TierHaiku:  "claude-3-5-haiku-latest",
	types.TierSonnet: "claude-sonnet-4-20250514",
	types.TierOpus:   "claude-opus-4-6",
}

// DefaultTimeouts by tier. Opus gets extra headroom for extended
// thinking.
var DefaultTimeouts = map[string]time.Duration{
	types.TierHaiku:  180 * time.Second,
	types.TierSonnet: 600 * time.Second,
	types.TierOpus:   1200 * time.Second,
}

// ThinkingEffortMultipliers scale the opus timeout per effort tier.
var ThinkingEffortMultipliers = map[string]float64{
	types.ThinkingLow:    0.75,
	types.ThinkingMedium: 1.0,
	types.ThinkingHigh:   1.5,
	types.ThinkingMax:    2.0,
}

// AgentConfig describes one agent to spawn.
type AgentConfig struct {
	Subtask        string
	Prompt         string
	AgentType      string
	Model          string
	ThinkingEffort string
	Timeout        time.Duration
	FilesToLock    []string
	LockType       string
	DQScore        float64
	CostEstimate   float64
}

// InvokeResult is what one model invocation produced.
type InvokeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Invoker runs one model invocation. The context carries the timeout;
// implementations must kill the underlying work when it expires.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (InvokeResult, error)
}

// CLIInvoker shells out to the claude binary. The binary path comes
// from CLAUDE_REAL_BIN or falls back to ~/.local/bin/claude; shell
// aliases do not survive into subprocesses, so this must be the real
// executable.
type CLIInvoker struct {
	binary   string
	maxTurns int
	workDir  string
}

// NewCLIInvoker resolves and validates the claude binary.
func NewCLIInvoker(binaryPath string, maxTurns int) (*CLIInvoker, error) {
	if binaryPath == "" {
		binaryPath = os.Getenv("CLAUDE_REAL_BIN")
	}
	if binaryPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		binaryPath = filepath.Join(home, ".local", "bin", "claude")
	}

	resolved, err := filepath.Abs(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve binary path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("claude binary not found at %s: %w", resolved, err)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("claude binary not executable: %s", resolved)
	}

	if maxTurns <= 0 {
		maxTurns = 50
	}
	home, _ := os.UserHomeDir()
	return &CLIInvoker{binary: resolved, maxTurns: maxTurns, workDir: home}, nil
}

// Invoke runs the CLI with the prompt in print mode.
func (c *CLIInvoker) Invoke(ctx context.Context, model, prompt string) (InvokeResult, error) {
	cmd := exec.CommandContext(ctx, c.binary,
		"--model", model,
		"--max-turns", fmt.Sprintf("%d", c.maxTurns),
		"-p", prompt)
	cmd.Dir = c.workDir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Give the process a 5s grace period between SIGTERM and SIGKILL
	// when the context expires.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	result := InvokeResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	return result, err
}

// Executor runs agents and records their outcomes.
type Executor struct {
	registry *registry.Registry
	locks    *locks.Manager
	invoker  Invoker

	maxWorkers   int
	pollInterval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an executor. maxWorkers <= 0 uses DefaultMaxWorkers.
func New(reg *registry.Registry, lockMgr *locks.Manager, invoker Invoker, maxWorkers int) *Executor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Executor{
		registry:     reg,
		locks:        lockMgr,
		invoker:      invoker,
		maxWorkers:   maxWorkers,
		pollInterval: time.Second,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// TimeoutFor resolves the effective timeout for a model and thinking
// effort. Explicit config timeouts win; opus scales by effort.
func TimeoutFor(model, thinkingEffort string, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	timeout, ok := DefaultTimeouts[model]
	if !ok {
		timeout = 300 * time.Second
	}
	if model == types.TierOpus && thinkingEffort != "" {
		if mult, ok := ThinkingEffortMultipliers[thinkingEffort]; ok {
			timeout = time.Duration(float64(timeout) * mult)
		}
	}
	return timeout
}

// ValidatePrompt rejects empty or oversized prompts and strips control
// characters other than newline and tab.
func ValidatePrompt(prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	if len(prompt) > MaxPromptLength {
		return "", fmt.Errorf("prompt exceeds maximum length (%d chars)", MaxPromptLength)
	}
	var b strings.Builder
	b.Grow(len(prompt))
	for _, r := range prompt {
		if r == '\n' || r == '\t' || r >= 32 {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// Spawn registers, locks, and runs one agent to completion, then
// releases its locks. The returned agent id is valid even when the
// agent failed; consult the registry for its terminal state.
func (e *Executor) Spawn(ctx context.Context, config AgentConfig, taskID string) (string, error) {
	agentID, err := e.registry.Register(registry.RegisterParams{
		TaskID:       taskID,
		Subtask:      config.Subtask,
		AgentType:    config.AgentType,
		Model:        config.Model,
		FilesToLock:  config.FilesToLock,
		DQScore:      config.DQScore,
		CostEstimate: config.CostEstimate,
	})
	if err != nil {
		return "", err
	}

	// Registered before acquisition so every exit path below releases
	// whatever locks the agent ended up holding.
	defer func() {
		if err := e.locks.ReleaseAgent(agentID); err != nil {
			log.Printf("[EXECUTOR] failed to release locks for %s: %v", agentID, err)
		}
	}()

	if len(config.FilesToLock) > 0 {
		lockType := config.LockType
		if lockType == "" {
			lockType = types.LockRead
		}
		ok, failed, err := e.locks.AcquireBatch(config.FilesToLock, agentID, lockType)
		if err != nil {
			return agentID, err
		}
		if !ok {
			return agentID, e.registry.Fail(agentID,
				fmt.Sprintf("Could not acquire locks: %v", failed))
		}
	}

	model := config.Model
	if mapped, ok := ModelMap[model]; ok {
		model = mapped
	}
	timeout := TimeoutFor(config.Model, config.ThinkingEffort, config.Timeout)

	prompt, err := ValidatePrompt(config.Prompt)
	if err != nil {
		return agentID, e.registry.Fail(agentID, err.Error())
	}

	if err := e.registry.Start(agentID); err != nil {
		return agentID, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	e.trackCancel(agentID, cancel)
	defer e.untrackCancel(agentID)
	defer cancel()

	result, runErr := e.invoker.Invoke(runCtx, model, prompt)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return agentID, e.registry.Timeout(agentID)
	case runCtx.Err() == context.Canceled:
		// Cancel already transitioned the record.
		return agentID, nil
	case runErr == nil && result.ExitCode == 0:
		return agentID, e.registry.Complete(agentID, map[string]string{
			"output": result.Stdout,
			"stderr": result.Stderr,
		})
	default:
		errMsg := result.Stderr
		if errMsg == "" {
			if runErr != nil {
				errMsg = runErr.Error()
			} else {
				errMsg = "Non-zero exit code"
			}
		}
		return agentID, e.registry.Fail(agentID, errMsg)
	}
}

// SpawnParallel runs configs concurrently, bounded by the worker limit,
// and returns every spawned agent id.
func (e *Executor) SpawnParallel(ctx context.Context, configs []AgentConfig, taskID string) []string {
	agentIDs := make([]string, len(configs))

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)
	for i, config := range configs {
		i, config := i, config
		g.Go(func() error {
			id, err := e.Spawn(ctx, config, taskID)
			if err != nil {
				log.Printf("[EXECUTOR] agent spawn failed: %v", err)
			}
			agentIDs[i] = id
			return nil
		})
	}
	g.Wait()

	var spawned []string
	for _, id := range agentIDs {
		if id != "" {
			spawned = append(spawned, id)
		}
	}
	return spawned
}

// WaitForAgents polls the registry until every agent reaches a terminal
// state or the timeout expires; leftovers are marked timed out.
func (e *Executor) WaitForAgents(agentIDs []string, timeout time.Duration) map[string]types.AgentResult {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	results := make(map[string]types.AgentResult)
	deadline := time.Now().Add(timeout)

	for {
		allDone := true
		for _, agentID := range agentIDs {
			if _, done := results[agentID]; done {
				continue
			}

			rec, err := e.registry.Get(agentID)
			if err != nil || rec == nil {
				results[agentID] = types.AgentResult{
					AgentID: agentID, Success: false, Error: "Agent not found",
				}
				continue
			}

			if types.IsTerminalState(rec.State) {
				var output string
				if rec.Result != nil {
					output = rec.Result["output"]
				}
				results[agentID] = types.AgentResult{
					AgentID: agentID,
					Success: rec.State == types.StateCompleted,
					Output:  output,
					Error:   rec.Error,
				}
			} else {
				allDone = false
			}
		}

		if allDone {
			break
		}
		if time.Now().After(deadline) {
			for _, agentID := range agentIDs {
				if _, done := results[agentID]; done {
					continue
				}
				if err := e.registry.Timeout(agentID); err != nil {
					log.Printf("[EXECUTOR] failed to time out %s: %v", agentID, err)
				}
				results[agentID] = types.AgentResult{
					AgentID: agentID, Success: false, Error: "Wait timeout exceeded",
				}
			}
			break
		}
		time.Sleep(e.pollInterval)
	}
	return results
}

// Cancel stops a running agent, transitions it, and releases its locks.
func (e *Executor) Cancel(agentID string) error {
	e.mu.Lock()
	if cancel, ok := e.cancels[agentID]; ok {
		cancel()
		delete(e.cancels, agentID)
	}
	e.mu.Unlock()

	if err := e.registry.Cancel(agentID); err != nil {
		return err
	}
	return e.locks.ReleaseAgent(agentID)
}

// CancelTask cancels every pending or running agent of a coordination
// task.
func (e *Executor) CancelTask(taskID string) error {
	agents, err := e.registry.TaskAgents(taskID)
	if err != nil {
		return err
	}
	for _, rec := range agents {
		if rec.State == types.StatePending || rec.State == types.StateRunning {
			if err := e.Cancel(rec.AgentID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) trackCancel(agentID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[agentID] = cancel
	e.mu.Unlock()
}

func (e *Executor) untrackCancel(agentID string) {
	e.mu.Lock()
	delete(e.cancels, agentID)
	e.mu.Unlock()
}

// GenerateTaskPrompt renders the standard agent prompt sections.
func GenerateTaskPrompt(subtask, context, instructions string) string {
	parts := []string{"## Task\n" + subtask}
	if context != "" {
		parts = append(parts, "\n## Context\n"+context)
	}
	if instructions != "" {
		parts = append(parts, "\n## Instructions\n"+instructions)
	}
	parts = append(parts, "\n## Output\nProvide a clear, structured response with your findings or changes.")
	return strings.Join(parts, "\n")
}
