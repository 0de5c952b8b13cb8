// Package endpoint provides a small, typed abstraction for building HTTP
// handlers.
//
// A handler is split into three phases:
//
//  1. Decode: the incoming request is decoded into a typed parameters
//     struct using struct tags (see Unmarshal).
//  2. Endpoint: the EndpointFunc receives the decoded parameters and the
//     request, runs the business logic, and returns a Renderer. It does
//     not write the response body itself.
//  3. Render: the returned Renderer writes the status code, headers, and
//     body to the http.ResponseWriter.
//
// Processors chain in front of the EndpointFunc as middleware.
package endpoint

import (
	"errors"
	"net/http"
)

// EndpointError is a client-visible error carrying an HTTP status code.
//
// The handler wrapper translates returned Go errors into HTTP responses;
// an EndpointError anywhere in the error chain selects the status and
// message of that response.
type EndpointError struct {
	Status int
	// Message is a short description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError wrapping err. If err already carries an
// EndpointError, it is returned unchanged so the innermost status wins.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer values write a response into an http.ResponseWriter.
//
// A Renderer MUST call w.WriteHeader exactly once, and may write a body
// afterwards. A returned error indicates a failure to write the response;
// at that point headers may already have been sent, so callers should treat
// it as best-effort.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the EndpointFunc.
//
// Processors MUST call next unless they intend to short-circuit the request
// by returning an error, and MUST NOT write response headers or body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc is the wrapped handler function type.
//
// It receives the response writer, the incoming request, and a typed params
// value populated from the request, and returns a Renderer responsible for
// writing the response, or an error.
//
// The EndpointFunc may set response headers and cookies on w, but must not
// call WriteHeader or write the body; that is the returned Renderer's job.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
//
// It runs zero or more processors, decodes params from the request, calls
// the EndpointFunc, and invokes the returned Renderer.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler.
//
// This helper exists to enable type inference for the params type P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	// Run each processor in order, then the EndpointFunc and its Renderer.
	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			p := h.Processors[i]
			if p == nil {
				return errors.New("endpoint: nil processor")
			}
			return p.Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		return renderer.Render(w2, r2)
	}

	err := run(0, w, r)
	if err == nil {
		return
	}

	status := http.StatusInternalServerError
	message := err.Error()
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		if ee.Message != "" {
			message = ee.Message
		} else {
			message = http.StatusText(status)
		}
	}
	http.Error(w, message, status)
}
