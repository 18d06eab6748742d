// Package orchestrator is the container lifecycle core: it decides when
// to create, reuse or destroy challenge instances, enforces per-team
// quotas and per-(team, problem) uniqueness, and performs the bulk
// reset between competition phases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ctfcore/internal/catalog"
	"ctfcore/internal/events"
	"ctfcore/internal/fanout"
	"ctfcore/internal/flaggen"
	"ctfcore/internal/monitor"
	"ctfcore/internal/registry"
	"ctfcore/internal/runtime"

	"github.com/google/uuid"
)

type Orchestrator struct {
	registry registry.Store
	catalog  catalog.Store
	engine   runtime.Engine
	flags    *flaggen.Generator
	bus      events.Bus
	cfg      Config
	logger   *slog.Logger
}

// New wires the orchestrator. bus may be nil when no event feed is
// configured.
func New(reg registry.Store, cat catalog.Store, eng runtime.Engine, flags *flaggen.Generator, bus events.Bus, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		catalog:  cat,
		engine:   eng,
		flags:    flags,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Provision ensures a live instance for the pair and returns its host
// ports. Calling it again for a running pair is an idempotent success,
// not an error: the existing ports come back with AlreadyRunning set
// and no container is created.
func (o *Orchestrator) Provision(ctx context.Context, teamID, problemID int64) (*ProvisionResult, error) {
	start := time.Now()

	var res *ProvisionResult
	err := o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
		prob, err := o.catalog.Visible(ctx, problemID)
		if err != nil {
			return err
		}

		inst, err := tx.Get(ctx, teamID, problemID)
		if err == nil {
			res = &ProvisionResult{
				ProblemID:      problemID,
				AlreadyRunning: true,
				Ports:          inst.HostPorts(),
			}
			return nil
		}
		if !errors.Is(err, registry.ErrInstanceNotFound) {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}

		count, err := tx.LiveCount(ctx, teamID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if count >= o.cfg.MaxInstancesPerTeam {
			return ErrQuotaExceeded
		}

		ports, err := o.startInstance(ctx, tx, teamID, prob)
		if err != nil {
			return err
		}
		res = &ProvisionResult{ProblemID: problemID, Ports: ports}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitor.ProvisionLatency.Observe(time.Since(start).Seconds())
	if !res.AlreadyRunning {
		monitor.LiveInstances.Inc()
		o.publish(ctx, events.Event{
			Type:      events.EventInstanceStarted,
			TeamID:    teamID,
			ProblemID: problemID,
		})
		o.logger.Info("Instance provisioned", "team_id", teamID, "problem_id", problemID, "ports", res.Ports)
	}
	return res, nil
}

// startInstance drives the runtime and persists the result as the final
// step. Every failure after the container exists runs the compensating
// stop+remove before returning: a runtime container must never be left
// behind without a matching registry record on this path.
func (o *Orchestrator) startInstance(ctx context.Context, tx registry.Tx, teamID int64, prob *catalog.Problem) ([]int, error) {
	name := fmt.Sprintf("%s-%d-%d-%s", o.cfg.NamePrefix, teamID, prob.ID, uuid.New().String())

	handle, err := o.engine.Create(ctx, name, prob.Image, prob.GuestPorts, nil)
	if err != nil {
		monitor.RuntimeErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	flag, err := o.flags.Flag()
	if err != nil {
		o.compensate(ctx, handle)
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	// The flag goes in at runtime, not image build time, so one image
	// serves every instance with a distinct secret.
	if err := o.engine.Exec(ctx, handle, []string{"/bin/sh", "/root/gen_flag", flag}, true); err != nil {
		monitor.RuntimeErrors.Inc()
		o.compensate(ctx, handle)
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}

	ports := make([]int, 0, len(prob.GuestPorts))
	bindings := make([]*registry.PortBinding, 0, len(prob.GuestPorts))
	for _, guestPort := range prob.GuestPorts {
		reported, err := o.engine.HostPorts(ctx, handle, guestPort)
		if err != nil {
			monitor.RuntimeErrors.Inc()
			o.compensate(ctx, handle)
			return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
		}
		// First-entry policy: the runtime reports one binding per
		// address family and we take whatever it lists first. This is
		// not an address-family guarantee.
		hostPort := reported[0].HostPort
		ports = append(ports, hostPort)
		bindings = append(bindings, &registry.PortBinding{GuestPort: guestPort, HostPort: hostPort})
	}

	inst := &registry.Instance{
		RuntimeID: handle,
		TeamID:    teamID,
		ProblemID: prob.ID,
		Flag:      flag,
		CreatedAt: time.Now(),
		Ports:     bindings,
	}
	if err := tx.Create(ctx, inst); err != nil {
		monitor.PersistenceErrors.Inc()
		o.compensate(ctx, handle)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return ports, nil
}

// compensate synchronously stops and removes a container whose registry
// record never materialized.
func (o *Orchestrator) compensate(ctx context.Context, handle string) {
	monitor.CompensationsRun.Inc()
	if err := o.destroyContainer(ctx, handle); err != nil {
		o.logger.Error("Compensating cleanup failed", "runtime_id", handle, "error", err)
	}
}

// Teardown destroys the pair's instance. The registry record is deleted
// first; only then is the runtime container stopped and removed.
func (o *Orchestrator) Teardown(ctx context.Context, teamID, problemID int64) error {
	var handle string
	err := o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
		inst, err := tx.Get(ctx, teamID, problemID)
		if err != nil {
			// Absent pair: zero runtime calls.
			return err
		}
		if err := tx.Delete(ctx, teamID, problemID); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		handle = inst.RuntimeID
		return nil
	})
	if err != nil {
		return err
	}

	// The delete above has committed, so a failure here leaves a
	// container running that the registry no longer knows about.
	// TODO: reconciliation sweep comparing registry rows against live
	// containers carrying the managed_by label, to retire exactly these
	// strays.
	if err := o.destroyContainer(ctx, handle); err != nil {
		o.logger.Error("Runtime cleanup failed after registry delete",
			"team_id", teamID, "problem_id", problemID, "runtime_id", handle, "error", err)
	}

	monitor.LiveInstances.Dec()
	o.publish(ctx, events.Event{
		Type:      events.EventInstanceStopped,
		TeamID:    teamID,
		ProblemID: problemID,
	})
	o.logger.Info("Instance torn down", "team_id", teamID, "problem_id", problemID)
	return nil
}

// TeardownAllForTeam destroys every instance the team has. If the bulk
// registry delete fails nothing is attempted against the runtime.
func (o *Orchestrator) TeardownAllForTeam(ctx context.Context, teamID int64) error {
	var insts []*registry.Instance
	err := o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
		var err error
		insts, err = tx.ListForTeam(ctx, teamID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if err := tx.DeleteAllForTeam(ctx, teamID); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	report := fanout.Run(ctx, o.teardownUnits(insts))
	for _, f := range report.Failed() {
		o.logger.Error("Runtime cleanup failed after registry delete", "instance", f.Key, "error", f.Err)
	}

	monitor.LiveInstances.Sub(float64(len(insts)))
	for _, inst := range insts {
		o.publish(ctx, events.Event{
			Type:      events.EventInstanceStopped,
			TeamID:    inst.TeamID,
			ProblemID: inst.ProblemID,
		})
	}
	o.logger.Info("Team instances torn down", "team_id", teamID, "count", len(insts))
	return nil
}

// BulkReprovision is the whole-system reset between competition phases.
// Phase 1 tears down every registered instance and clears the registry;
// phase 2 provisions one instance per (team, problem) pair across the
// full catalog. Phase 1 runs to completion before phase 2 starts
// because both touch the same registry keys and runtime namespace; a
// failed unit in either phase is logged and isolated, never aborting
// its siblings.
func (o *Orchestrator) BulkReprovision(ctx context.Context) error {
	monitor.ReprovisionRuns.Inc()
	o.logger.Info("Bulk reprovision started")

	var insts []*registry.Instance
	err := o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
		var err error
		insts, err = tx.ListAll(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	teardownReport := fanout.Run(ctx, o.teardownUnits(insts))
	for _, f := range teardownReport.Failed() {
		monitor.ReprovisionUnitFailures.WithLabelValues("teardown").Inc()
		o.logger.Error("Reprovision teardown unit failed", "instance", f.Key, "error", f.Err)
	}

	err = o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
		return tx.DeleteAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	problems, err := o.catalog.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list problems: %w", err)
	}
	teams, err := o.catalog.ListTeams(ctx)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	units := make([]fanout.Unit, 0, len(problems)*len(teams))
	for _, team := range teams {
		for _, prob := range problems {
			units = append(units, fanout.Unit{
				Key: fmt.Sprintf("team=%d problem=%d", team.ID, prob.ID),
				Run: func(ctx context.Context) error {
					return o.registry.RunInTransaction(ctx, func(tx registry.Tx) error {
						_, err := o.startInstance(ctx, tx, team.ID, prob)
						return err
					})
				},
			})
		}
	}

	provisionReport := fanout.Run(ctx, units)
	for _, f := range provisionReport.Failed() {
		monitor.ReprovisionUnitFailures.WithLabelValues("provision").Inc()
		o.logger.Error("Reprovision unit failed", "pair", f.Key, "error", f.Err)
	}

	report := ReprovisionReport{
		TornDown:          len(insts) - teardownReport.FailureCount(),
		TeardownFailures:  teardownReport.FailureCount(),
		Provisioned:       len(units) - provisionReport.FailureCount(),
		ProvisionFailures: provisionReport.FailureCount(),
	}
	monitor.LiveInstances.Set(float64(report.Provisioned))
	o.publish(ctx, events.Event{
		Type:    events.EventReprovisionReport,
		Payload: report,
	})
	o.logger.Info("Bulk reprovision finished",
		"torn_down", report.TornDown,
		"teardown_failures", report.TeardownFailures,
		"provisioned", report.Provisioned,
		"provision_failures", report.ProvisionFailures)
	return nil
}

func (o *Orchestrator) teardownUnits(insts []*registry.Instance) []fanout.Unit {
	units := make([]fanout.Unit, 0, len(insts))
	for _, inst := range insts {
		units = append(units, fanout.Unit{
			Key: fmt.Sprintf("team=%d problem=%d", inst.TeamID, inst.ProblemID),
			Run: func(ctx context.Context) error {
				return o.destroyContainer(ctx, inst.RuntimeID)
			},
		})
	}
	return units
}

// destroyContainer stops then removes. A container the runtime no
// longer knows about counts as already destroyed.
func (o *Orchestrator) destroyContainer(ctx context.Context, handle string) error {
	if err := o.engine.Stop(ctx, handle); err != nil {
		if errors.Is(err, runtime.ErrContainerNotFound) {
			return nil
		}
		monitor.RuntimeErrors.Inc()
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	if err := o.engine.Remove(ctx, handle); err != nil {
		if errors.Is(err, runtime.ErrContainerNotFound) {
			return nil
		}
		monitor.RuntimeErrors.Inc()
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish lifecycle event", "type", event.Type, "error", err)
	}
}
