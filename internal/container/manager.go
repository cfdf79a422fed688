package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tomatool/ketchup/internal/config"
)

// RunLabel tags every container started by one run
const RunLabel = "ketchup.run"

// CheckDockerAvailable verifies that the Docker daemon answers
func CheckDockerAvailable(ctx context.Context) error {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return &DockerNotRunningError{cause: err}
	}
	defer provider.Close()

	if err := provider.Health(ctx); err != nil {
		return &DockerNotRunningError{cause: err}
	}
	return nil
}

// DockerNotRunningError provides instructions for starting Docker
type DockerNotRunningError struct {
	cause error
}

func (e *DockerNotRunningError) Unwrap() error { return e.cause }

func (e *DockerNotRunningError) Error() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return `Docker is not running. Start Docker Desktop, wait until it reports
that the engine is running, then run ketchup again.`
	case "linux":
		return `Docker is not running. To fix this:

  sudo systemctl start docker
  sudo usermod -aG docker $USER   (then log out and back in)`
	default:
		return "Docker is not running. Please start Docker and try again."
	}
}

// Instance is the part of a running container the manager relies on.
// testcontainers.Container satisfies it.
type Instance interface {
	Host(ctx context.Context) (string, error)
	MappedPort(ctx context.Context, port nat.Port) (nat.Port, error)
	Exec(ctx context.Context, cmd []string, options ...tcexec.ProcessOption) (int, io.Reader, error)
	Logs(ctx context.Context) (io.ReadCloser, error)
	Terminate(ctx context.Context, opts ...testcontainers.TerminateOption) error
}

// Manager starts the containers a run needs and exposes their addresses
// to the resource handlers
type Manager struct {
	configs    map[string]config.Container
	containers map[string]Instance
	order      []string // startup order based on dependencies
	runID      string
	network    *testcontainers.DockerNetwork
	mu         sync.RWMutex
}

// NewManager validates the dependency graph and computes the start order
func NewManager(configs map[string]config.Container) (*Manager, error) {
	m := &Manager{
		configs:    configs,
		containers: make(map[string]Instance),
		runID:      uuid.New().String()[:8],
	}

	order, err := m.calculateStartOrder()
	if err != nil {
		return nil, fmt.Errorf("calculating start order: %w", err)
	}
	m.order = order

	return m, nil
}

// RunID identifies this run's containers via the RunLabel label
func (m *Manager) RunID() string {
	return m.runID
}

// Order returns container names in start order
func (m *Manager) Order() []string {
	return append([]string(nil), m.order...)
}

// calculateStartOrder returns containers in dependency order using topological sort
func (m *Manager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name := range m.configs {
		inDegree[name] = 0
	}

	for name, cfg := range m.configs {
		for _, dep := range cfg.DependsOn {
			if _, ok := m.configs[dep]; !ok {
				return nil, fmt.Errorf("container %s depends on unknown container %s", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(m.configs))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(m.configs) {
		return nil, fmt.Errorf("circular dependency detected in container configuration")
	}

	return order, nil
}

// StartAll creates the shared network and starts all containers in dependency order
func (m *Manager) StartAll(ctx context.Context) error {
	if len(m.order) == 0 {
		return nil
	}

	if m.network == nil {
		net, err := network.New(ctx, network.WithDriver("bridge"))
		if err != nil {
			return fmt.Errorf("creating network: %w", err)
		}
		m.network = net
		log.Debug().Str("network", net.Name).Msg("docker network created")
	}

	for _, name := range m.order {
		if err := m.Start(ctx, name); err != nil {
			return fmt.Errorf("starting container %s: %w", name, err)
		}
	}
	return nil
}

// Start starts a single container
func (m *Manager) Start(ctx context.Context, name string) error {
	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("unknown container: %s", name)
	}

	log.Debug().Str("container", name).Str("image", cfg.Image).Msg("starting container")
	startTime := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		Env:          cfg.Env,
		ExposedPorts: cfg.Ports,
		Labels:       map[string]string{RunLabel: m.runID},
		WaitingFor:   buildWaitStrategy(cfg),
	}

	// other containers reach this one by its config name
	if m.network != nil {
		req.Networks = []string{m.network.Name}
		req.NetworkAliases = map[string][]string{m.network.Name: {name}}
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	m.mu.Lock()
	m.containers[name] = c
	m.mu.Unlock()

	log.Info().
		Str("container", name).
		Dur("duration", time.Since(startTime)).
		Msg("container ready")

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		go m.followLogs(ctx, name, c)
	}

	return nil
}

// followLogs forwards container output to the debug log, one event per line
func (m *Manager) followLogs(ctx context.Context, name string, c Instance) {
	logs, err := c.Logs(ctx)
	if err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to get container logs")
		return
	}
	defer logs.Close()

	scanner := bufio.NewScanner(logs)
	for scanner.Scan() {
		log.Debug().Str("container", name).Msg(scanner.Text())
	}
}

// buildWaitStrategy converts the configured wait strategy. Without one,
// the first exposed port is awaited, or the first log line when no port is exposed.
func buildWaitStrategy(cfg config.Container) wait.Strategy {
	ws := cfg.WaitFor
	timeout := ws.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	switch ws.Type {
	case "port":
		return wait.ForListeningPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
	case "log":
		return wait.ForLog(ws.Target).WithStartupTimeout(timeout)
	case "http":
		strategy := wait.ForHTTP(ws.Path).WithPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
		if ws.Method != "" {
			strategy = strategy.WithMethod(ws.Method)
		}
		return strategy
	case "exec":
		return wait.ForExec([]string{"sh", "-c", ws.Target}).WithStartupTimeout(timeout)
	}

	if len(cfg.Ports) > 0 {
		return wait.ForListeningPort(nat.Port(cfg.Ports[0])).WithStartupTimeout(timeout)
	}
	return wait.ForLog("").WithStartupTimeout(timeout)
}

// Get returns a running container by name
func (m *Manager) Get(name string) (Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("container not found: %s", name)
	}
	return c, nil
}

// GetHost returns the host address for a container
func (m *Manager) GetHost(ctx context.Context, name string) (string, error) {
	c, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return c.Host(ctx)
}

// GetPort returns the host port mapped to a container port such as "5432/tcp"
func (m *Manager) GetPort(ctx context.Context, name, port string) (string, error) {
	c, err := m.Get(name)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", fmt.Errorf("mapping port %s of %s: %w", port, name, err)
	}
	return mapped.Port(), nil
}

// Exec runs cmd in a container and returns its exit code and combined output
func (m *Manager) Exec(ctx context.Context, name string, cmd []string) (int, string, error) {
	c, err := m.Get(name)
	if err != nil {
		return 0, "", err
	}

	exitCode, reader, err := c.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return 0, "", err
	}

	output, err := io.ReadAll(reader)
	if err != nil {
		return exitCode, string(output), fmt.Errorf("reading output: %w", err)
	}
	return exitCode, string(output), nil
}

// StopAll terminates containers in reverse start order
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		c, ok := m.containers[name]
		if !ok {
			continue
		}
		log.Debug().Str("container", name).Msg("stopping container")
		if err := c.Terminate(ctx); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("failed to stop container")
		}
		delete(m.containers, name)
	}
}

// Cleanup stops all containers and removes the shared network
func (m *Manager) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.StopAll(ctx)

	if m.network != nil {
		log.Debug().Str("network", m.network.Name).Msg("removing docker network")
		if err := m.network.Remove(ctx); err != nil {
			log.Warn().Err(err).Str("network", m.network.Name).Msg("failed to remove network")
		}
		m.network = nil
	}
}

// LogConnectionInfo logs the host address of every mapped container port
func (m *Manager) LogConnectionInfo(ctx context.Context) {
	for _, name := range m.order {
		host, err := m.GetHost(ctx, name)
		if err != nil {
			continue
		}
		for _, port := range m.configs[name].Ports {
			mapped, err := m.GetPort(ctx, name, port)
			if err != nil {
				continue
			}
			log.Info().
				Str("container", name).
				Str("port", port).
				Str("address", host+":"+mapped).
				Msg("container port mapped")
		}
	}
}
