// Package metrics defines the observability hooks used by the generation
// queue, the build pipeline and the service client, with a no-op default and
// a Prometheus implementation.
package metrics
