package domain

// CycleRecord is the measurement taken for one scheduler cycle.
type CycleRecord struct {
	Seq           uint64  `json:"seq"`
	CycleTimeNs   int64   `json:"cycle_time_ns"`
	DeltaNs       int64   `json:"delta_ns"`
	JitterNs      uint64  `json:"jitter_ns"`
	Miss          bool    `json:"miss"`
	WorkloadRatio float64 `json:"workload_ratio"`
	CPULoad       float64 `json:"cpu_load"`
	Mode          Mode    `json:"mode"`
}

// CycleOutcome is what the per-cycle work reports back to the scheduler.
type CycleOutcome struct {
	WorkloadRatio float64
	CPULoad       float64
	Mode          Mode
}

// Observation is the part of a CycleRecord the telemetry publisher aggregates.
type Observation struct {
	JitterNs      uint64
	Miss          bool
	WorkloadRatio float64
	CPULoad       float64
	Mode          Mode
}

func (r CycleRecord) Observation() Observation {
	return Observation{
		JitterNs:      r.JitterNs,
		Miss:          r.Miss,
		WorkloadRatio: r.WorkloadRatio,
		CPULoad:       r.CPULoad,
		Mode:          r.Mode,
	}
}
