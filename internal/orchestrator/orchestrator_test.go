package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"ctfcore/internal/catalog"
	"ctfcore/internal/flaggen"
	"ctfcore/internal/orchestrator"
	"ctfcore/internal/registry"
	"ctfcore/internal/runtime"
)

// ---- fakes ----

type pairKey struct {
	team, problem int64
}

// fakeRegistry is an in-memory Store. Transactions execute directly
// against the shared state; the orchestrator's contract under test does
// not depend on rollback because failed creates never store anything.
type fakeRegistry struct {
	mu        sync.Mutex
	instances map[pairKey]*registry.Instance
	nextID    int64
	createErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instances: make(map[pairKey]*registry.Instance)}
}

func (r *fakeRegistry) RunInTransaction(ctx context.Context, fn func(tx registry.Tx) error) error {
	return fn(r)
}

func (r *fakeRegistry) Get(ctx context.Context, teamID, problemID int64) (*registry.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[pairKey{teamID, problemID}]
	if !ok {
		return nil, registry.ErrInstanceNotFound
	}
	return inst, nil
}

func (r *fakeRegistry) LiveCount(ctx context.Context, teamID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for k := range r.instances {
		if k.team == teamID {
			count++
		}
	}
	return count, nil
}

func (r *fakeRegistry) Create(ctx context.Context, inst *registry.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	key := pairKey{inst.TeamID, inst.ProblemID}
	if _, ok := r.instances[key]; ok {
		return registry.ErrDuplicateInstance
	}
	r.nextID++
	inst.ID = r.nextID
	r.instances[key] = inst
	return nil
}

func (r *fakeRegistry) Delete(ctx context.Context, teamID, problemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, pairKey{teamID, problemID})
	return nil
}

func (r *fakeRegistry) ListForTeam(ctx context.Context, teamID int64) ([]*registry.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var insts []*registry.Instance
	for k, inst := range r.instances {
		if k.team == teamID {
			insts = append(insts, inst)
		}
	}
	return insts, nil
}

func (r *fakeRegistry) DeleteAllForTeam(ctx context.Context, teamID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.instances {
		if k.team == teamID {
			delete(r.instances, k)
		}
	}
	return nil
}

func (r *fakeRegistry) ListAll(ctx context.Context) ([]*registry.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var insts []*registry.Instance
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	return insts, nil
}

func (r *fakeRegistry) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[pairKey]*registry.Instance)
	return nil
}

func (r *fakeRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

type fakeCatalog struct {
	problems map[int64]*catalog.Problem
	teams    []*catalog.Team
}

func (c *fakeCatalog) Visible(ctx context.Context, id int64) (*catalog.Problem, error) {
	p, ok := c.problems[id]
	if !ok || !p.Visible {
		return nil, catalog.ErrProblemNotFound
	}
	return p, nil
}

func (c *fakeCatalog) Get(ctx context.Context, id int64) (*catalog.Problem, error) {
	p, ok := c.problems[id]
	if !ok {
		return nil, catalog.ErrProblemNotFound
	}
	return p, nil
}

func (c *fakeCatalog) ListVisible(ctx context.Context) ([]*catalog.Problem, error) {
	var out []*catalog.Problem
	for _, p := range c.problems {
		if p.Visible {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListAll(ctx context.Context) ([]*catalog.Problem, error) {
	var out []*catalog.Problem
	for _, p := range c.problems {
		out = append(out, p)
	}
	return out, nil
}

func (c *fakeCatalog) SetVisibility(ctx context.Context, id int64, visible bool) error {
	p, ok := c.problems[id]
	if !ok {
		return catalog.ErrProblemNotFound
	}
	p.Visible = visible
	return nil
}

func (c *fakeCatalog) ListTeams(ctx context.Context) ([]*catalog.Team, error) {
	return c.teams, nil
}

// fakeEngine records every call and hands out deterministic host ports.
type fakeEngine struct {
	mu          sync.Mutex
	createCalls int
	failOnNth   int // 1-based create attempt that fails, 0 = never
	handles     map[string]bool
	execs       [][]string
	stops       []string
	removes     []string
	nextPort    int
	assigned    map[string]map[string][]runtime.Binding // handle → guest port → bindings
	fixed       map[string][]runtime.Binding            // guest port → bindings, overrides assignment
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handles:  make(map[string]bool),
		assigned: make(map[string]map[string][]runtime.Binding),
		nextPort: 30000,
	}
}

func (e *fakeEngine) Create(ctx context.Context, name, image string, guestPorts []string, env []string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createCalls++
	if e.failOnNth != 0 && e.createCalls == e.failOnNth {
		return "", runtime.ErrCreateFailed
	}
	handle := fmt.Sprintf("cont-%d", e.createCalls)
	e.handles[handle] = true
	e.assigned[handle] = make(map[string][]runtime.Binding)
	for _, gp := range guestPorts {
		if fixed, ok := e.fixed[gp]; ok {
			e.assigned[handle][gp] = fixed
			continue
		}
		e.nextPort++
		e.assigned[handle][gp] = []runtime.Binding{
			{HostIP: "0.0.0.0", HostPort: e.nextPort},
			{HostIP: "::", HostPort: e.nextPort},
		}
	}
	return handle, nil
}

func (e *fakeEngine) Exec(ctx context.Context, handle string, cmd []string, detach bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.handles[handle] {
		return runtime.ErrContainerNotFound
	}
	e.execs = append(e.execs, cmd)
	return nil
}

func (e *fakeEngine) HostPorts(ctx context.Context, handle, guestPort string) ([]runtime.Binding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ports, ok := e.assigned[handle]
	if !ok {
		return nil, runtime.ErrContainerNotFound
	}
	bindings, ok := ports[guestPort]
	if !ok {
		return nil, runtime.ErrNoPortBinding
	}
	return bindings, nil
}

func (e *fakeEngine) Stop(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.handles[handle] {
		return runtime.ErrContainerNotFound
	}
	e.stops = append(e.stops, handle)
	return nil
}

func (e *fakeEngine) Remove(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.handles[handle] {
		return runtime.ErrContainerNotFound
	}
	delete(e.handles, handle)
	e.removes = append(e.removes, handle)
	return nil
}

func (e *fakeEngine) liveContainers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// ---- harness ----

type harness struct {
	reg    *fakeRegistry
	cat    *fakeCatalog
	engine *fakeEngine
	orc    *orchestrator.Orchestrator
}

func newHarness(t *testing.T, quota int) *harness {
	t.Helper()
	h := &harness{
		reg:    newFakeRegistry(),
		cat:    &fakeCatalog{problems: make(map[int64]*catalog.Problem)},
		engine: newFakeEngine(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.orc = orchestrator.New(h.reg, h.cat, h.engine, flaggen.New("ctf"), nil,
		orchestrator.Config{MaxInstancesPerTeam: quota, NamePrefix: "ctf"}, logger)
	return h
}

func (h *harness) addProblem(id int64, visible bool, guestPorts ...string) {
	h.cat.problems[id] = &catalog.Problem{
		ID:         id,
		Name:       fmt.Sprintf("prob-%d", id),
		Image:      "challenge:latest",
		GuestPorts: guestPorts,
		Visible:    visible,
	}
}

func (h *harness) addTeams(ids ...int64) {
	for _, id := range ids {
		h.cat.teams = append(h.cat.teams, &catalog.Team{ID: id, Name: fmt.Sprintf("team-%d", id)})
	}
}

// ---- tests ----

func TestProvisionIdempotent(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")
	ctx := context.Background()

	first, err := h.orc.Provision(ctx, 10, 1)
	if err != nil {
		t.Fatalf("first Provision failed: %v", err)
	}
	if first.AlreadyRunning {
		t.Error("first Provision reported already running")
	}
	if len(first.Ports) != 1 {
		t.Fatalf("expected 1 port, got %v", first.Ports)
	}

	second, err := h.orc.Provision(ctx, 10, 1)
	if err != nil {
		t.Fatalf("second Provision failed: %v", err)
	}
	if !second.AlreadyRunning {
		t.Error("second Provision did not report already running")
	}
	if second.Ports[0] != first.Ports[0] {
		t.Errorf("port changed across idempotent calls: %d vs %d", first.Ports[0], second.Ports[0])
	}
	if h.engine.createCalls != 1 {
		t.Errorf("expected exactly 1 container create, got %d", h.engine.createCalls)
	}
	if h.reg.count() != 1 {
		t.Errorf("expected exactly 1 registered instance, got %d", h.reg.count())
	}
}

func TestProvisionInjectsFlag(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")

	if _, err := h.orc.Provision(context.Background(), 10, 1); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if len(h.engine.execs) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(h.engine.execs))
	}
	cmd := h.engine.execs[0]
	if cmd[0] != "/bin/sh" || cmd[1] != "/root/gen_flag" {
		t.Errorf("unexpected flag injection command: %v", cmd)
	}
	if !strings.HasPrefix(cmd[2], "ctf{") || !strings.HasSuffix(cmd[2], "}") {
		t.Errorf("injected value is not a flag: %q", cmd[2])
	}

	inst, err := h.reg.Get(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("instance not registered: %v", err)
	}
	if inst.Flag != cmd[2] {
		t.Errorf("registered flag %q differs from injected flag %q", inst.Flag, cmd[2])
	}
}

func TestProvisionHiddenProblem(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, false, "22/tcp")

	_, err := h.orc.Provision(context.Background(), 10, 1)
	if !errors.Is(err, catalog.ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound, got %v", err)
	}
	if h.engine.createCalls != 0 {
		t.Errorf("hidden problem caused %d create calls", h.engine.createCalls)
	}
}

func TestProvisionQuotaScenario(t *testing.T) {
	// Quota = 1, problem P with guest port 22. Second provision of P is
	// idempotent; provisioning a second problem hits the quota because
	// it counts total live instances per team, not per problem.
	h := newHarness(t, 1)
	h.addProblem(1, true, "22/tcp")
	h.addProblem(2, true, "22/tcp")
	ctx := context.Background()

	first, err := h.orc.Provision(ctx, 10, 1)
	if err != nil {
		t.Fatalf("Provision(A, P) failed: %v", err)
	}
	if first.AlreadyRunning || len(first.Ports) != 1 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	again, err := h.orc.Provision(ctx, 10, 1)
	if err != nil {
		t.Fatalf("repeat Provision(A, P) failed: %v", err)
	}
	if !again.AlreadyRunning || again.Ports[0] != first.Ports[0] {
		t.Errorf("repeat call not idempotent: %+v", again)
	}

	_, err = h.orc.Provision(ctx, 10, 2)
	if !errors.Is(err, orchestrator.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for second problem, got %v", err)
	}
	if h.engine.createCalls != 1 {
		t.Errorf("quota rejection still created a container: %d creates", h.engine.createCalls)
	}
}

func TestProvisionCompensatesOnPersistenceFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")
	h.reg.createErr = errors.New("registry down")

	_, err := h.orc.Provision(context.Background(), 10, 1)
	if !errors.Is(err, orchestrator.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	if len(h.engine.stops) != 1 || len(h.engine.removes) != 1 {
		t.Errorf("expected exactly one compensating stop+remove, got stops=%v removes=%v",
			h.engine.stops, h.engine.removes)
	}
	if h.engine.liveContainers() != 0 {
		t.Errorf("orphan container left running after persistence failure")
	}
	if h.reg.count() != 0 {
		t.Errorf("registry has %d instances after failed create", h.reg.count())
	}
}

func TestPortSelectionTakesFirstEntry(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")
	h.engine.fixed = map[string][]runtime.Binding{
		"22/tcp": {
			{HostIP: "::", HostPort: 40001},
			{HostIP: "0.0.0.0", HostPort: 40002},
		},
	}

	res, err := h.orc.Provision(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if len(res.Ports) != 1 || res.Ports[0] != 40001 {
		t.Errorf("expected first reported binding 40001, got %v", res.Ports)
	}
}

func TestTeardown(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")
	ctx := context.Background()

	if _, err := h.orc.Provision(ctx, 10, 1); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if err := h.orc.Teardown(ctx, 10, 1); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if h.reg.count() != 0 {
		t.Errorf("registry still has %d instances", h.reg.count())
	}
	if h.engine.liveContainers() != 0 {
		t.Errorf("container still running after teardown")
	}
	if len(h.engine.stops) != 1 || len(h.engine.removes) != 1 {
		t.Errorf("expected one stop and one remove, got stops=%v removes=%v", h.engine.stops, h.engine.removes)
	}
}

func TestTeardownAbsentPair(t *testing.T) {
	h := newHarness(t, 3)
	h.addProblem(1, true, "22/tcp")

	err := h.orc.Teardown(context.Background(), 10, 1)
	if !errors.Is(err, registry.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
	if len(h.engine.stops) != 0 || len(h.engine.removes) != 0 {
		t.Errorf("teardown of absent pair touched the runtime: stops=%v removes=%v",
			h.engine.stops, h.engine.removes)
	}
}

func TestTeardownAllForTeam(t *testing.T) {
	h := newHarness(t, 5)
	h.addProblem(1, true, "22/tcp")
	h.addProblem(2, true, "80/tcp")
	ctx := context.Background()

	for _, pid := range []int64{1, 2} {
		if _, err := h.orc.Provision(ctx, 10, pid); err != nil {
			t.Fatalf("Provision(%d) failed: %v", pid, err)
		}
	}
	// Another team's instance must survive.
	if _, err := h.orc.Provision(ctx, 20, 1); err != nil {
		t.Fatalf("Provision for team 20 failed: %v", err)
	}

	if err := h.orc.TeardownAllForTeam(ctx, 10); err != nil {
		t.Fatalf("TeardownAllForTeam failed: %v", err)
	}

	if h.reg.count() != 1 {
		t.Errorf("expected 1 surviving instance, got %d", h.reg.count())
	}
	if _, err := h.reg.Get(ctx, 20, 1); err != nil {
		t.Errorf("other team's instance was destroyed: %v", err)
	}
	if h.engine.liveContainers() != 1 {
		t.Errorf("expected 1 surviving container, got %d", h.engine.liveContainers())
	}
}

func TestBulkReprovision(t *testing.T) {
	h := newHarness(t, 100)
	h.addProblem(1, true, "22/tcp")
	h.addProblem(2, false, "80/tcp") // hidden problems are still reprovisioned
	h.addTeams(10, 20, 30)
	ctx := context.Background()

	// Leftover instance from the previous phase.
	if _, err := h.orc.Provision(ctx, 10, 1); err != nil {
		t.Fatalf("setup Provision failed: %v", err)
	}
	preCreates := h.engine.createCalls

	if err := h.orc.BulkReprovision(ctx); err != nil {
		t.Fatalf("BulkReprovision failed: %v", err)
	}

	if got := h.engine.createCalls - preCreates; got != 6 {
		t.Errorf("expected 3 teams x 2 problems = 6 create attempts, got %d", got)
	}
	if h.reg.count() != 6 {
		t.Errorf("expected 6 registered instances, got %d", h.reg.count())
	}
	if h.engine.liveContainers() != 6 {
		t.Errorf("expected 6 live containers, got %d", h.engine.liveContainers())
	}
	// The pre-existing container was torn down, not reused.
	if _, err := h.reg.Get(ctx, 10, 1); err != nil {
		t.Errorf("pair (10, 1) missing after reprovision: %v", err)
	}
}

func TestBulkReprovisionIsolatesFailures(t *testing.T) {
	h := newHarness(t, 100)
	h.addProblem(1, true, "22/tcp")
	h.addProblem(2, true, "80/tcp")
	h.addTeams(10, 20, 30)
	h.engine.failOnNth = 3 // one of the six creates fails

	if err := h.orc.BulkReprovision(context.Background()); err != nil {
		t.Fatalf("BulkReprovision surfaced a unit failure: %v", err)
	}

	if h.engine.createCalls != 6 {
		t.Errorf("expected 6 create attempts, got %d", h.engine.createCalls)
	}
	if h.reg.count() != 5 {
		t.Errorf("expected 5 live instances after one induced failure, got %d", h.reg.count())
	}
}

func TestAtMostOneInstancePerPair(t *testing.T) {
	h := newHarness(t, 100)
	h.addProblem(1, true, "22/tcp")
	ctx := context.Background()

	// Hammer the same pair; the registry's uniqueness check must keep
	// the invariant regardless of how many calls race.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orc.Provision(ctx, 10, 1)
		}()
	}
	wg.Wait()

	if h.reg.count() != 1 {
		t.Fatalf("uniqueness invariant broken: %d instances for one pair", h.reg.count())
	}
	if h.engine.liveContainers() != 1 {
		t.Errorf("expected 1 live container, got %d (losers must be compensated)", h.engine.liveContainers())
	}
}
