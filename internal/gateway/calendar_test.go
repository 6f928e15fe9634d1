package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/thesis-api/pkg/config"
)

func TestCalDAVUpdateEventRewritesResource(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		payload, _ := io.ReadAll(r.Body)
		body = string(payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cal := NewCalDAVCalendar(config.CalendarConfig{BaseURL: srv.URL}, nil)
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	err := cal.UpdateEvent(context.Background(), "evt-42", CalendarEvent{
		Summary: "Thesis presentation: Raft variants",
		Start:   start,
		End:     start.Add(45 * time.Minute),
	})
	require.NoError(t, err)

	// The update goes to the same resource the create produced, with
	// the UID preserved.
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/evt-42.ics", path)
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR"))
	assert.Contains(t, body, "UID:evt-42")
}

func TestCalDAVDeleteEventToleratesMissingResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cal := NewCalDAVCalendar(config.CalendarConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, cal.DeleteEvent(context.Background(), "evt-42"))
}
