// Package domain defines the core business types for the Fluid ⇄ Exigo
// preferred-customer bridge.
//
// Types in this package are pure value objects with no behavior beyond
// validation and set arithmetic, no database dependencies, and no HTTP
// concerns. They are the shared language between gateways, the
// reconciliation engine, repositories, and handlers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - External IDs are normalized here, once, via NormalizeExternalID
package domain
