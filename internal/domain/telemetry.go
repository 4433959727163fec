package domain

// Summary is the aggregated telemetry body published on every tick.
type Summary struct {
	Timestamp    float64 `json:"timestamp"`
	Mode         Mode    `json:"mode"`
	JitterMeanMs float64 `json:"jitter_mean"`
	JitterMaxMs  float64 `json:"jitter_max"`
	MissRatePct  float64 `json:"miss_rate"`
	Workload     float64 `json:"workload"`
	CPULoad      float64 `json:"cpu_load"`

	Samples int `json:"-"`
}
