// Package scheduler admits queued enrichment jobs under a bounded permit
// pool, runs them through a Runner and reconciles jobs that a crash or a
// failure left behind.
package scheduler
