package api

import (
	"net/http"
)

// Responder is implemented by handler results that write their own response.
type Responder interface {
	Respond(w http.ResponseWriter, r *http.Request)
}

// Response is a response builder returned by handlers that need control over
// the status code or headers. Its fields are exported so it survives a JSON
// round trip through a cache.
type Response struct {
	StatusCode int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       interface{}       `json:"body,omitempty"`
}

// Status starts a response with the given status code.
func Status(code int) *Response {
	return &Response{StatusCode: code}
}

// OK is a 200 response carrying body as JSON.
func OK(body interface{}) *Response {
	return Status(http.StatusOK).JSON(body)
}

// Created is a 201 response carrying body as JSON.
func Created(body interface{}) *Response {
	return Status(http.StatusCreated).JSON(body)
}

// NoContent is an empty 204 response.
func NoContent() *Response {
	return Status(http.StatusNoContent)
}

// JSON sets the body.
func (r *Response) JSON(body interface{}) *Response {
	r.Body = body
	return r
}

// Header sets a response header.
func (r *Response) Header(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// Respond implements Responder.
func (r *Response) Respond(w http.ResponseWriter, _ *http.Request) {
	for k, v := range r.Headers {
		w.Header().Set(k, v)
	}
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if r.Body == nil {
		w.WriteHeader(status)
		return
	}
	Success(w, status, r.Body)
}
