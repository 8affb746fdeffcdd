package transport

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	wifiwatch "github.com/wifiwatch/go-wifiwatch"
)

// Request describes one call against the REST interface. Body, Query, and
// Header are optional.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Response is a successful (2xx) result. An empty body is reported
// explicitly so callers can tell "nothing returned" from "empty record".
type Response struct {
	Status int
	body   []byte
}

// NoContent reports whether the server returned a body-less response.
func (r *Response) NoContent() bool {
	return len(r.body) == 0
}

// Bytes returns the raw response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// Decode unmarshals the body into v. A body-less response yields
// wifiwatch.ErrNoContent and leaves v untouched.
func (r *Response) Decode(v any) error {
	if r.NoContent() {
		return wifiwatch.ErrNoContent
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return errors.Wrap(err, "[Response.Decode]")
	}
	return nil
}
