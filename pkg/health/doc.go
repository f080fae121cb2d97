/*
Package health runs periodic checks of the engine's dependencies and feeds
the results into the health registry served on /health and /ready.

A Checker performs one check. A Monitor runs a set of named checkers every
Interval and reports each component as unhealthy only after Retries
consecutive failures, so a single slow list call does not flip readiness.

	mon := health.NewMonitor(health.DefaultConfig()).
		Add("orchestrator", health.NewOrchestratorChecker(client, "default")).
		Add("store", health.NewStoreChecker(store))
	mon.Start()
	defer mon.Stop()
*/
package health
