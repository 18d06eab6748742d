package orchestrator

type Config struct {
	// MaxInstancesPerTeam caps a team's simultaneous live instances
	// across all problems.
	MaxInstancesPerTeam int

	// NamePrefix namespaces container names on the runtime.
	NamePrefix string
}

type ProvisionResult struct {
	ProblemID      int64 `json:"problem_id"`
	AlreadyRunning bool  `json:"already_running"`
	Ports          []int `json:"ports"`
}

// ReprovisionReport summarizes one bulk reset: how many units each
// phase ran and how many failed. Failures are isolated per unit and
// never abort the run.
type ReprovisionReport struct {
	TornDown          int `json:"torn_down"`
	TeardownFailures  int `json:"teardown_failures"`
	Provisioned       int `json:"provisioned"`
	ProvisionFailures int `json:"provision_failures"`
}
