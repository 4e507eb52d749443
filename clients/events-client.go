package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CodeBTHS/app/logging"

	"github.com/sony/gobreaker"
)

var errUnexpectedStatus = errors.New("unexpected status from events service")

// EventsClient asks the events service whether an event exists.
type EventsClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewEventsBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     2 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.WithField(logging.EventField, "CIRCUIT_BREAKER_STATE_CHANGE").
				Infof("Circuit Breaker '%s' changed from '%s' to '%s'", name, from.String(), to.String())
		},
	})
}

func NewEventsClient(baseURL string, httpClient *http.Client, breaker *gobreaker.CircuitBreaker) *EventsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &EventsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		breaker: breaker,
	}
}

// EventExists reports true on 200 and false on 404. Any other outcome is an
// error and counts against the circuit breaker. An empty id never exists.
func (c *EventsClient) EventExists(ctx context.Context, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		endpoint := fmt.Sprintf("%s/api/events/%s", c.baseURL, url.PathEscape(eventID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
		}
	})
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return result.(bool), nil
}
