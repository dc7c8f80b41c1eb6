// Package probes implements the dependency probes.
//
// Each probe body depends on a narrow interface over the client it needs
// (ContainerLister, QueueAdmin, KeyValueStore, ...). Adapters in this package
// satisfy those interfaces with the Azure and AWS SDK clients, Redis and
// database/sql; tests substitute hand-written fakes.
//
// Probes never decide their own key and never enforce their own deadline;
// the health orchestrator does both.
package probes
