// Package reconcile keeps a company's Fluid pricing tiers in line with
// Exigo autoship status.
//
// The Engine runs delta syncs: it diffs today's active-autoship IDs
// against the last persisted snapshot and only touches customers whose
// membership changed. A customer who lost their Exigo autoship keeps the
// preferred tier while Fluid still shows an active subscription of its
// own. First runs, and runs whose new-ID delta exceeds the daily warmup
// limit, process a capped slice of new IDs and defer demotions.
//
// PageProcessor applies the same keep/demote rule to externally
// paginated customer pages so that one company can be spread across
// workers. It never reads or writes snapshots.
//
// All mutations go through TierWriter, which throttles calls, mirrors
// the tier to Exigo on a best-effort basis, and writes the audit row.
package reconcile
