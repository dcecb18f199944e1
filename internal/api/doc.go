// Package api exposes the REST surface: synchronous question answering,
// asynchronous task submission and task inspection. Authentication is a
// shared API key checked on every route except the health probe.
package api
