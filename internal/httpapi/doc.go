// Package httpapi exposes the engine over HTTP.
//
// Routes live under /api/logs/. Authentication (HS256 bearer tokens) and
// per-caller rate limiting are optional and configured through Options;
// with both disabled every request is anonymous and unthrottled.
package httpapi
