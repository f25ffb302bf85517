// Package domain defines the core types of the email tracking service.
//
// Types in this package are pure value objects: no storage, no broker and
// no HTTP concerns. They are the shared language between the repository,
// the tracking pipeline and the HTTP handlers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No context.Context, locks or clients in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Pure helper methods and constructors are allowed
package domain
