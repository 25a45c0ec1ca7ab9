// Package metrics exposes the kernel's Prometheus collectors.
//
// [Metrics] implements authkernel.Observer and owns a private registry;
// callers mount [Metrics.Handler]. Nothing is registered globally.
package metrics
