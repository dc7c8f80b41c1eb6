// Package health runs dependency probes and aggregates their outcomes into a
// single report.
//
// A [Probe] returns an [Outcome] describing one dependency. Probes are
// collected in a [Registry] under unique keys, and an [Orchestrator] runs
// every registered probe concurrently, each under its own deadline, while a
// global deadline bounds how long the orchestrator waits for stragglers.
// The resulting [Report] is Unhealthy if any entry is Unhealthy.
//
// [Renderer] turns a report into the plain-text body served on /health.
//
// [ShutdownGate] coordinates graceful shutdown: once set, its probe reports
// Unhealthy immediately (via atomic.Bool) so load balancers stop sending
// traffic before in-flight requests are drained.
package health
