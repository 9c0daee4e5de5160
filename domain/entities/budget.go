package entities

import "time"

// BudgetDimension names one ceiling of the session budget.
type BudgetDimension string

const (
	DimensionCompute   BudgetDimension = "compute"
	DimensionMemory    BudgetDimension = "memory"
	DimensionInstances BudgetDimension = "instances"
	DimensionTimeout   BudgetDimension = "timeout"
)

// BudgetState is Active until any ceiling is crossed, then Exhausted
// for the rest of the session.
type BudgetState string

const (
	BudgetActive    BudgetState = "active"
	BudgetExhausted BudgetState = "exhausted"
)

// BudgetLimits are the per-session ceilings. A zero value disables that
// ceiling.
type BudgetLimits struct {
	ComputeUnits   uint64
	MemoryBytes    uint64
	MaxInstances   int
	SessionTimeout time.Duration
}

// BudgetSnapshot is a point-in-time copy of the enforcer state.
type BudgetSnapshot struct {
	StartTime              time.Time       `json:"start_time"`
	Deadline               time.Time       `json:"deadline,omitzero"`
	State                  BudgetState     `json:"state"`
	TrappedOn              BudgetDimension `json:"trapped_on,omitempty"`
	ComputeUnitsRemaining  uint64          `json:"compute_units_remaining"`
	ComputeUnitsCharged    uint64          `json:"compute_units_charged"`
	MemoryCeilingBytes     uint64          `json:"memory_ceiling_bytes"`
	ActiveInstanceCount    int             `json:"active_instance_count"`
	MaxInstances           int             `json:"max_instances"`
	ComputeCeilingDisabled bool            `json:"compute_ceiling_disabled,omitempty"`
}
