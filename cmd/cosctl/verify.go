package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mcp-tool-shop-org/consensusos/applications/ops"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/config"
	"github.com/mcp-tool-shop-org/consensusos/system/adapters"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
	"github.com/mcp-tool-shop-org/consensusos/system/governor"
	"github.com/mcp-tool-shop-org/consensusos/system/sandbox"
	"github.com/mcp-tool-shop-org/consensusos/system/state"
)

// assembly is the one-shot core the CLI builds for verify and inspection
// commands.
type assembly struct {
	loader   *engine.Loader
	governor *governor.Governor
	registry *state.Registry
	sandbox  *sandbox.Sandbox
	adapters *adapters.Registry
}

// assemble wires the standard fleet: governor, state registry, sandbox, a
// simulated chain adapter, and (when enabled) the ops endpoint.
func assemble(cfg config.CoreConfig) (*assembly, error) {
	limits := governor.Limits{
		TotalCPUMillis:   cfg.Governor.TotalCPUMillis,
		TotalMemoryBytes: cfg.Governor.TotalMemoryBytes,
		MaxConcurrent:    cfg.Governor.MaxConcurrent,
		MaxQueueDepth:    cfg.Governor.MaxQueueDepth,
	}
	if limits.TotalCPUMillis <= 0 || limits.TotalMemoryBytes <= 0 {
		host := governor.LimitsFromHost()
		if limits.TotalCPUMillis <= 0 {
			limits.TotalCPUMillis = host.TotalCPUMillis
		}
		if limits.TotalMemoryBytes <= 0 {
			limits.TotalMemoryBytes = host.TotalMemoryBytes
		}
	}

	executor := func(_ context.Context, task governor.Task) (any, error) {
		return fmt.Sprintf("built %s", task.Label), nil
	}

	var govOpts []governor.Option
	if cfg.Governor.SweepSchedule != "" {
		govOpts = append(govOpts, governor.WithSweepSchedule(cfg.Governor.SweepSchedule))
	}

	a := &assembly{
		loader:   engine.NewLoader(),
		governor: governor.New(limits, executor, govOpts...),
		registry: state.NewRegistry(),
		sandbox:  sandbox.New(),
		adapters: adapters.NewRegistry(),
	}

	sim := adapters.NewSimAdapter("neo").
		Respond("getinfo", map[string]any{"network": "privnet"}).
		Respond("getblockcount", 1)
	if err := sim.Connect(context.Background(), adapters.Config{NetworkID: "privnet"}); err != nil {
		return nil, err
	}
	if err := a.adapters.Register("privnet", sim); err != nil {
		return nil, err
	}

	if err := a.loader.Register(a.governor); err != nil {
		return nil, err
	}
	if err := a.loader.Register(a.registry); err != nil {
		return nil, err
	}
	if err := a.loader.Register(a.sandbox); err != nil {
		return nil, err
	}
	if cfg.Ops.Enabled {
		server := ops.New(cfg.Ops.Addr, ops.Sources{
			Loader:   a.loader,
			Governor: a.governor,
			Adapters: a.adapters,
		})
		if err := a.loader.Register(server); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// cmdVerify assembles a core, boots it, and drives one scripted scheduling
// pass end to end.
func cmdVerify(ctx context.Context, log *zap.SugaredLogger, cfg config.CoreConfig) bool {
	a, err := assemble(cfg)
	if err != nil {
		log.Errorw("assemble failed", "error", err)
		return false
	}

	if err := a.loader.Boot(ctx); err != nil {
		log.Errorw("boot failed", "error", err)
		return false
	}
	defer func() {
		if err := a.loader.Shutdown(ctx); err != nil {
			log.Errorw("shutdown failed", "error", err)
		}
	}()

	fmt.Printf("boot:    ok (order %v)\n", a.loader.BootOrder())

	// Schedule three tasks with distinct priorities and check drain order.
	var labels []string
	for _, priority := range []int{2, 9, 5} {
		grant, err := a.governor.RequestToken(governor.TokenRequest{
			Owner:       "verify",
			Priority:    priority,
			CPUMillis:   100,
			MemoryBytes: 16 << 20,
		})
		if err != nil {
			log.Errorw("token request failed", "error", err)
			return false
		}
		if _, err := a.governor.SubmitTask(governor.TaskSpec{
			Label:   fmt.Sprintf("priority%d", priority),
			Owner:   "verify",
			TokenID: grant.Token.ID,
		}); err != nil {
			log.Errorw("submit failed", "error", err)
			return false
		}
	}

	for _, task := range a.governor.ProcessTasks(ctx) {
		if task.Status != governor.TaskCompleted {
			log.Errorw("task did not complete", "label", task.Label, "status", task.Status)
			return false
		}
		labels = append(labels, task.Label)
	}
	want := []string{"priority9", "priority5", "priority2"}
	for i := range want {
		if i >= len(labels) || labels[i] != want[i] {
			log.Errorw("drain order wrong", "got", labels, "want", want)
			return false
		}
	}
	fmt.Printf("drain:   ok (order %v)\n", labels)

	// State registry mutation and snapshot round trip through the sandbox.
	a.registry.Set("verify.height", 1, "verify")
	snapshot, err := a.registry.Snapshot()
	if err != nil {
		log.Errorw("state snapshot failed", "error", err)
		return false
	}
	raw, err := a.sandbox.Capture(snapshot.Entries)
	if err != nil {
		log.Errorw("capture failed", "error", err)
		return false
	}
	if _, err := sandbox.Deserialize(raw); err != nil {
		log.Errorw("capture round trip failed", "error", err)
		return false
	}
	fmt.Printf("sandbox: ok (%d bytes captured)\n", len(raw))

	// Adapter health over the simulated chain.
	if adapter, ok := a.adapters.Get("neo", "privnet"); ok {
		health := adapter.HealthCheck(ctx)
		if !health.Healthy {
			log.Errorw("adapter unhealthy")
			return false
		}
		fmt.Printf("adapter: ok (%dms)\n", health.LatencyMs)
	}

	fmt.Println("verify:  PASS")
	return true
}

// cmdStatus prints plugin states and governor usage from a freshly booted
// assembly.
func cmdStatus(ctx context.Context, log *zap.SugaredLogger, cfg config.CoreConfig) bool {
	a, err := assemble(cfg)
	if err != nil {
		log.Errorw("assemble failed", "error", err)
		return false
	}
	if err := a.loader.Boot(ctx); err != nil {
		log.Errorw("boot failed", "error", err)
		return false
	}
	defer func() { _ = a.loader.Shutdown(ctx) }()

	fmt.Printf("boot order: %v\n", a.loader.BootOrder())
	for _, manifest := range a.loader.Plugins() {
		pluginState, _ := a.loader.State(manifest.ID)
		fmt.Printf("  %-16s %-12s v%s\n", manifest.ID, pluginState, manifest.Version)
	}

	usage := a.governor.Usage()
	limits := a.governor.Limits()
	fmt.Printf("governor: cpu %d/%d millis, memory %d/%d bytes, queue %d\n",
		usage.CPUMillis, limits.TotalCPUMillis,
		usage.MemoryBytes, limits.TotalMemoryBytes,
		a.governor.Queue().Depth())
	return true
}

// cmdPlugins lists the assembled fleet without booting it.
func cmdPlugins(_ context.Context, log *zap.SugaredLogger, cfg config.CoreConfig) bool {
	a, err := assemble(cfg)
	if err != nil {
		log.Errorw("assemble failed", "error", err)
		return false
	}

	for _, manifest := range a.loader.Plugins() {
		fmt.Printf("%-16s v%-8s caps=%v deps=%v\n",
			manifest.ID, manifest.Version, manifest.Capabilities, manifest.Dependencies)
	}
	return true
}

// cmdAdapters lists registered chain adapters and their health.
func cmdAdapters(ctx context.Context, log *zap.SugaredLogger, cfg config.CoreConfig) bool {
	a, err := assemble(cfg)
	if err != nil {
		log.Errorw("assemble failed", "error", err)
		return false
	}

	for _, info := range a.adapters.List() {
		line := fmt.Sprintf("%-8s %-10s %s", info.Family, info.NetworkID, info.Status)
		if adapter, ok := a.adapters.Get(info.Family, info.NetworkID); ok && info.Status == adapters.StatusConnected {
			health := adapter.HealthCheck(ctx)
			line += fmt.Sprintf("  healthy=%t latency=%dms", health.Healthy, health.LatencyMs)
		}
		fmt.Println(line)
	}
	return true
}
