package ports

// Metric names shared by the pipeline and the observability adapters.
const (
	MetricItemsReceived     = "backend_client_items_received_total"
	MetricItemsDispatched   = "backend_client_items_dispatched_total"
	MetricItemsDiscarded    = "backend_client_items_discarded_total"
	MetricQueueDropped      = "backend_client_queue_dropped_total"
	MetricReconnectAttempts = "backend_client_reconnect_attempts_total"
	MetricWorkerDeaths      = "backend_client_worker_deaths_total"
	MetricEnvelopesInvalid  = "backend_client_envelopes_invalid_total"

	MetricQueueLength  = "backend_client_queue_length"
	MetricWorkersAlive = "backend_client_workers_alive"

	MetricDispatchLatency = "backend_client_dispatch_latency_seconds"
)
