/*
Package metrics provides Prometheus metrics and health reporting for the
engine.

All collectors are registered with the default registry at package init and
exposed through Handler on /metrics.

# Metric Families

	nimbus_resources_total{kind,phase}             gauge, refreshed by Collector
	nimbus_reconcile_cycles_total{kind}            counter
	nimbus_reconcile_duration_seconds{kind}        histogram
	nimbus_reconcile_passes_total{kind,outcome}    counter
	nimbus_reconcile_queued_total                  counter
	nimbus_actions_total{kind,type,result}         counter
	nimbus_action_attempts{type}                   histogram
	nimbus_action_duration_seconds{type}           histogram
	nimbus_actions_superseded_total{kind}          counter
	nimbus_actions_in_flight                       gauge
	nimbus_reader_fetch_total{kind,result}         counter
	nimbus_reader_fetch_duration_seconds{kind}     histogram
	nimbus_raft_*                                  gauges, set by the manager
	nimbus_api_requests_total{method,status}       counter
	nimbus_api_request_duration_seconds{method}    histogram
	nimbus_events_published_total{type}            counter
	nimbus_events_dropped_total                    counter

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconcileDuration, string(kind))

# Health

Components register themselves with RegisterComponent and report changes
with UpdateComponent. HealthHandler reports overall health, ReadyHandler
answers 503 until every critical component (store, orchestrator, reconciler
and api by default) is registered and healthy, and LivenessHandler only
reports that the process is up.
*/
package metrics
