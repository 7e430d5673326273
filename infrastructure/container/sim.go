package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type simContainer struct {
	info Info
	spec Spec
}

// SimRuntime is an in-memory Runtime for tests and hosts without a daemon.
// Exec results are scriptable per command name.
type SimRuntime struct {
	mu         sync.Mutex
	containers map[string]*simContainer
	order      []string
	execs      map[string]ExecResult
}

// NewSimRuntime creates an empty simulated runtime.
func NewSimRuntime() *SimRuntime {
	return &SimRuntime{
		containers: make(map[string]*simContainer),
		execs:      make(map[string]ExecResult),
	}
}

// RespondExec scripts the result for an exec whose argv[0] equals command.
func (s *SimRuntime) RespondExec(command string, result ExecResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[command] = result
}

// Create implements Runtime.
func (s *SimRuntime) Create(_ context.Context, spec Spec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("image required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.containers[id] = &simContainer{
		info: Info{
			ID:      id,
			Name:    spec.Name,
			Image:   spec.Image,
			State:   "running",
			Running: true,
		},
		spec: spec,
	}
	s.order = append(s.order, id)
	return id, nil
}

// Stop implements Runtime.
func (s *SimRuntime) Stop(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[id]
	if !ok {
		return fmt.Errorf("container %s not found", id)
	}
	c.info.State = "exited"
	c.info.Running = false
	return nil
}

// Remove implements Runtime.
func (s *SimRuntime) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.containers[id]; !ok {
		return fmt.Errorf("container %s not found", id)
	}
	delete(s.containers, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Exec implements Runtime.
func (s *SimRuntime) Exec(_ context.Context, id string, argv []string) (ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[id]
	if !ok {
		return ExecResult{}, fmt.Errorf("container %s not found", id)
	}
	if !c.info.Running {
		return ExecResult{}, fmt.Errorf("container %s not running", id)
	}
	if len(argv) == 0 {
		return ExecResult{}, fmt.Errorf("argv required")
	}

	if result, scripted := s.execs[argv[0]]; scripted {
		return result, nil
	}
	return ExecResult{ExitCode: 0}, nil
}

// Status implements Runtime.
func (s *SimRuntime) Status(_ context.Context, id string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[id]
	if !ok {
		return Info{}, fmt.Errorf("container %s not found", id)
	}
	return c.info, nil
}

// List implements Runtime in creation order.
func (s *SimRuntime) List(context.Context) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.containers[id].info)
	}
	return out, nil
}
