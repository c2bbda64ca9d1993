/*
Package metrics exports tiercache behaviour to Prometheus.

A Collector owns a private prometheus.Registry. Cache components receive a
*Collector and report into it; a nil or disabled collector turns every
Record call into a no-op, so instrumentation never needs guarding at call
sites.

Exported series (namespace and subsystem prefixes are configurable):

	requests_total{namespace,tier,result}        tier lookups (hit, stale, miss)
	fetches_total{namespace,mode,status}         fetch function invocations
	fetch_duration_seconds{namespace,mode}       fetch latency
	revalidations_total{namespace,outcome}       background refresh outcomes
	evictions_total{namespace,tier,reason}       capacity and expiry removals
	entries{namespace,tier}                      current entries per tier
	persist_failures_total{namespace,operation}  absorbed persistence failures
	medium_operations_total{backend,operation,status}
	medium_operation_duration_seconds{backend,operation}
	circuit_state{name}

Start serves the registry on the configured port together with a /health
endpoint; Handler returns the same handler for embedding in another server.
*/
package metrics
