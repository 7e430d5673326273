// Package container defines the injected container runtime interface with a
// docker-backed implementation and an in-memory simulation.
package container

import (
	"context"
)

// Spec describes a container to create.
type Spec struct {
	Image       string            `json:"image"`
	Name        string            `json:"name,omitempty"`
	Cmd         []string          `json:"cmd,omitempty"`
	Env         []string          `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Ports       map[int]int       `json:"ports,omitempty"` // container port -> host port
	MemoryBytes int64             `json:"memory_bytes,omitempty"`
	NanoCPUs    int64             `json:"nano_cpus,omitempty"`
}

// ExecResult is the outcome of running a command inside a container.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Info describes a container known to the runtime.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Running bool   `json:"running"`
}

// Runtime is the small surface the core consumes. The core never constructs
// a runtime; implementations are injected by the host.
type Runtime interface {
	Create(ctx context.Context, spec Spec) (string, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, argv []string) (ExecResult, error)
	Status(ctx context.Context, id string) (Info, error)
	List(ctx context.Context) ([]Info, error)
}
