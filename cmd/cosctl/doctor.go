package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/container"
)

// cmdDoctor checks host prerequisites. Docker being down is reported but not
// fatal; the container runtime is optional.
func cmdDoctor(ctx context.Context, log *zap.SugaredLogger) bool {
	healthy := true

	if info, err := host.Info(); err == nil {
		fmt.Printf("host:    %s %s (%s)\n", info.Platform, info.PlatformVersion, info.KernelArch)
	}

	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		fmt.Println("cpu:     FAIL (cannot count logical cores)")
		healthy = false
	} else {
		fmt.Printf("cpu:     ok (%d logical cores, %d cpu-millis budget)\n", cores, cores*1000)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		fmt.Println("memory:  FAIL (cannot probe virtual memory)")
		healthy = false
	} else {
		fmt.Printf("memory:  ok (%.1f GiB total, %.1f GiB available)\n",
			float64(vm.Total)/float64(1<<30), float64(vm.Available)/float64(1<<30))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if rt, err := container.NewDockerRuntime(); err != nil {
		fmt.Printf("docker:  unavailable (%v)\n", err)
	} else if err := rt.Ping(pingCtx); err != nil {
		fmt.Printf("docker:  unreachable (%v)\n", err)
	} else {
		fmt.Println("docker:  ok")
	}

	if healthy {
		fmt.Println("doctor:  all required checks passed")
	} else {
		log.Errorw("doctor found failing checks")
	}
	return healthy
}
