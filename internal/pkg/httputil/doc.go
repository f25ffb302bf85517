// Package httputil provides shared HTTP response and request helpers.
//
// Handlers write through these helpers instead of raw http.ResponseWriter
// calls so every endpoint returns the same JSON envelopes and logs
// failures the same way.
package httputil
