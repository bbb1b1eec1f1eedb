// Package http implements the HTTP handlers for the license server. Handlers
// parse and validate requests, call the license engine and render responses;
// they hold no license logic of their own.
//
// # Routes
//
//	POST /api/license/acquire                     acquire and store a license
//	GET  /api/license/validate?client_id=&domain= validate a stored license
//	GET  /api/license/{clientID}                  current license record
//	GET  /api/license/{clientID}/status           license status summary
//	GET  /api/license/{clientID}/limits           entitled user range
//	GET  /api/license/{clientID}/check-limit      check a user count
//	GET  /api/license/cache/stats                 validation cache counters
//	GET  /api/health                              health report
//	GET  /api/app/entitlements                    gated by the license gate
//
// # Error Handling
//
// Failures are RFC 7807 problem details rendered by internal/errors:
//
//	{
//	    "type": "/errors/license/not-found",
//	    "title": "License Not Found",
//	    "status": 404,
//	    "detail": "No active license found",
//	    "instance": "/api/license/client-1"
//	}
//
// Acquisition and validation outcomes are not errors: they are returned as
// AcquireResult and ValidationResult bodies.
package http
