// Package observability builds the process logger and the Prometheus
// metrics recorded by the token authority and the auth middleware.
package observability
