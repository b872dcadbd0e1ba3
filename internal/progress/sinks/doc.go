// Package sinks implements progress consumers: a structured zap log and
// Prometheus collectors for jobs, domains and CAPTCHA waits.
package sinks
