// Package api implements the HTTP REST API and WebSocket server for ParkFlow Core.
//
// This package provides:
//   - Park registry endpoints (list, upsert, set state, delete)
//   - Point cache and live fieldbus endpoints
//   - Flow document load/save and runner start/stop/status
//   - The persisted console and order log
//   - A WebSocket hub streaming console entries, flow status and point rows
//
// # Architecture
//
// The server is a thin layer over the domain packages. It never drives the
// fieldbus or the dispatch service on its own: flows run in the automation
// runner, and the API only starts, stops and observes them.
//
//	browser ──HTTP──▶ router ──▶ park / pointcache / automation / audit
//	browser ◀──WS─── Hub ◀── console sink, status and point observers
//
// # Graceful Degradation
//
// Every dependency except the logger is optional. A route whose backing
// component is missing answers 503 instead of failing at startup.
package api
