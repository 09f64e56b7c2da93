// Package server implements the ct-secretsd HTTP API on 127.0.0.1.
//
// Every route except GET /health requires "Authorization: Bearer <token>".
// Errors are JSON objects of the form {"detail": "..."}. Requests carry an
// X-Request-ID, generated when the client does not send one.
package server
