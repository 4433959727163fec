package ports

// Metric names understood by Observability implementations.
const (
	MetricCycles            = "aegisrt_cycles_total"
	MetricDeadlineMisses    = "aegisrt_deadline_misses_total"
	MetricModeSwitches      = "aegisrt_mode_switches_total"
	MetricLoadFallbacks     = "aegisrt_load_probe_fallbacks_total"
	MetricTelemetryPublish  = "aegisrt_telemetry_published_total"
	MetricTelemetrySkipped  = "aegisrt_telemetry_skipped_total"
	MetricTelemetryDropped  = "aegisrt_telemetry_dropped_total"
	MetricTelemetryErrors   = "aegisrt_telemetry_publish_errors_total"
	MetricCommandsApplied   = "aegisrt_commands_applied_total"
	MetricCommandsRejected  = "aegisrt_commands_rejected_total"
	MetricCycleJitter       = "aegisrt_cycle_jitter_seconds"
	MetricPublishLatency    = "aegisrt_telemetry_publish_latency_seconds"
	MetricCPULoad           = "aegisrt_cpu_load_percent"
	MetricWorkloadRatio     = "aegisrt_workload_ratio"
	MetricMode              = "aegisrt_mode"
	MetricTelemetryQueueLen = "aegisrt_telemetry_queue_length"
)
