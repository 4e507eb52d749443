package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"
	"github.com/sony/gobreaker"
)

func TestEventExists(t *testing.T) {
	is := is.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events/e1":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"e1"}`))
		case "/api/events/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewEventsClient(srv.URL+"/", srv.Client(), NewEventsBreaker("test"))
	ctx := context.Background()

	exists, err := client.EventExists(ctx, "e1")
	is.NoErr(err)
	is.True(exists)

	exists, err = client.EventExists(ctx, "missing")
	is.NoErr(err)
	is.True(!exists)

	_, err = client.EventExists(ctx, "broken")
	is.True(errors.Is(err, errUnexpectedStatus))
}

func TestEventExistsEmptyID(t *testing.T) {
	is := is.New(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewEventsClient(srv.URL, srv.Client(), NewEventsBreaker("test-empty"))
	for _, id := range []string{"", "  "} {
		exists, err := client.EventExists(context.Background(), id)
		is.NoErr(err)
		is.True(!exists)
	}
	is.Equal(calls.Load(), int32(0))
}

func TestEventExistsOpensBreaker(t *testing.T) {
	is := is.New(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewEventsClient(srv.URL, srv.Client(), NewEventsBreaker("test-open"))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := client.EventExists(ctx, "e1")
		is.True(errors.Is(err, errUnexpectedStatus))
	}

	_, err := client.EventExists(ctx, "e1")
	is.True(errors.Is(err, gobreaker.ErrOpenState))
	is.Equal(calls.Load(), int32(4))
}
