package bootstrap

import (
	"context"
	"testing"

	"github.com/COORDINATOR/internal/executor"
	"github.com/COORDINATOR/internal/types"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(ctx context.Context, model, prompt string) (executor.InvokeResult, error) {
	return executor.InvokeResult{Stdout: "done"}, nil
}

func testConfig(t *testing.T) *types.Config {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestBuildRequiresConfig(t *testing.T) {
	if _, err := Build(Options{}); err == nil {
		t.Fatal("Build accepted a nil config")
	}
}

func TestBuildWiresComponents(t *testing.T) {
	rt, err := Build(Options{
		Config:  testConfig(t),
		Invoker: stubInvoker{},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer rt.Shutdown(context.Background())

	if rt.DB == nil || rt.Bus == nil || rt.Registry == nil || rt.Locks == nil {
		t.Error("core components missing")
	}
	if rt.Executor == nil || rt.Orchestrator == nil || rt.Server == nil {
		t.Error("execution components missing")
	}
	if rt.natsClient != nil || rt.embedded != nil {
		t.Error("NATS connected despite being disabled")
	}
}

func TestAddr(t *testing.T) {
	rt, err := Build(Options{Config: testConfig(t), Invoker: stubInvoker{}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer rt.Shutdown(context.Background())

	if got := rt.Addr(); got != "127.0.0.1:3848" {
		t.Errorf("Addr() = %s", got)
	}
}

func TestShutdownIsIdempotentOnPartialRuntime(t *testing.T) {
	rt := &Runtime{Config: types.DefaultConfig()}
	rt.Shutdown(context.Background())
}
