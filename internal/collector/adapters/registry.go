package adapters

import (
	"net/http"

	"github.com/sawpanic/fundingedge/internal/collector"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// Build returns the poll adapter or the stream adapter for v, matching its
// configured transport; exactly one return value is non-nil.
func Build(v venue.Tag, client *http.Client) (collector.PollAdapter, collector.StreamAdapter) {
	if venue.Streaming(v) {
		return nil, NewWSStreamAdapter(v)
	}
	return NewHTTPPollAdapter(v, client), nil
}
