// Package api exposes the intent lifecycle over REST: submission, auction,
// authorization, execution, status queries and an administrative reset.
// Failures carry the error code, its public kind and a client/server
// classification so callers can tell correctable requests from outages.
package api
