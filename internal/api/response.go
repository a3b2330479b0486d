// Package api implements the Inbound ingress surface (spec §6): HTTP
// handlers for registration, heartbeat, recording start/stop, status,
// list, history, node management, scaling recommendations, capacity view,
// health probes, and the recorder event callback, plus the push channel
// handed off to internal/wschannel. Envelope shape and router/middleware
// wiring are adapted from arkeep-io-arkeep's internal/api, with the
// envelope fields renamed to the {success, data, error} shape spec §7
// mandates.
package api

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with {success:true, data:payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: payload})
}

// Created writes a 201 Created response with {success:true, data:payload}.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, envelope{Success: true, Data: payload})
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errEnvelope writes a {success:false, error:reason} response at status.
func errEnvelope(w http.ResponseWriter, status int, reason string) {
	JSON(w, status, envelope{Success: false, Error: reason})
}

// ErrBadRequest writes a 400 response (spec §7 "Validation errors").
func ErrBadRequest(w http.ResponseWriter, reason string) {
	errEnvelope(w, http.StatusBadRequest, reason)
}

// ErrNotFound writes a 404 response.
func ErrNotFound(w http.ResponseWriter, reason string) {
	errEnvelope(w, http.StatusNotFound, reason)
}

// ErrConflict writes a 409 response — used for no-resource outcomes like
// `no-room-server` (spec §7 "No-resource").
func ErrConflict(w http.ResponseWriter, reason string) {
	errEnvelope(w, http.StatusConflict, reason)
}

// ErrInternal writes a 500 response — used for state-machine violations
// (spec §7 "State-machine violation ... surfaced as 500-class to the
// boundary") and unexpected failures. The internal error detail is logged,
// never echoed to the client.
func ErrInternal(w http.ResponseWriter) {
	errEnvelope(w, http.StatusInternalServerError, "an internal error occurred")
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
