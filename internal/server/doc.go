// Package server provides HTTP routing, middleware, and the admin API for operator-driven migrations.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// Middleware is bound when a route is registered, so routes added before a [BasicRouter.Use] call are not
// wrapped by it. [New] relies on this to keep /healthz outside the [DevOnly] gate.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method-qualified patterns.
//
// # Admin API
//
// [AdminHandler] serves everything under /admin:
//   - asset listings (migratable and raw)
//   - single-item operations, one step per request, with download and upload streamed as SSE
//   - back-reference patches through the reconciler
//   - presigned single-shot and multipart URLs for browser-side uploads
//   - bulk worklists with next, run (SSE), and pause
//   - the transfer history recorded in the audit log
//
// Errors are returned as {"error", "kind"} with a status derived from the error taxonomy. A step that
// is not eligible is a 409; a failed backend patch after a successful upload is still a 200 with a warning.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
