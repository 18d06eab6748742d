package registry

import "time"

// Instance is one live challenge container bound to exactly one
// (team, problem) pair. The pair is unique at the storage level; the
// registry, not the runtime, is the source of truth for "does a live
// container exist".
type Instance struct {
	ID        int64          `pg:"id,pk"`
	RuntimeID string         `pg:"runtime_id,notnull"`
	TeamID    int64          `pg:"team_id,notnull,unique:team_problem"`
	ProblemID int64          `pg:"problem_id,notnull,unique:team_problem"`
	Flag      string         `pg:"flag,notnull"`
	CreatedAt time.Time      `pg:"created_at,notnull,default:now()"`
	Ports     []*PortBinding `pg:"rel:has-many"`
}

// PortBinding records the host port the runtime assigned for one guest
// port of an instance. Rows are cascade-deleted with their instance and
// only written after the runtime has confirmed the assignment.
type PortBinding struct {
	ID         int64     `pg:"id,pk"`
	InstanceID int64     `pg:"instance_id,notnull,on_delete:CASCADE"`
	Instance   *Instance `pg:"rel:has-one"`
	GuestPort  string    `pg:"guest_port,notnull"`
	HostPort   int       `pg:"host_port,notnull"`
}

// HostPorts returns the instance's assigned host ports in binding order.
func (i *Instance) HostPorts() []int {
	ports := make([]int, 0, len(i.Ports))
	for _, p := range i.Ports {
		ports = append(ports, p.HostPort)
	}
	return ports
}
