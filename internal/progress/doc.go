// Package progress carries job and domain milestones from the enrichment
// workers to observers. Events are batched on a background goroutine and
// fanned out to sinks such as structured logs and Prometheus collectors.
// CAPTCHA_WAIT is the signal an operator watches for when a browser tab
// needs a human.
package progress
