// Package fanout runs the page-oriented reconciliation: it computes the
// active autoship set once, shares it through Redis, and spreads Fluid
// customer pages over an in-process worker pool or an SQS queue. The
// orchestrator is the only writer of the company's snapshot.
package fanout
