package common

import "fmt"

// ValidationError reports a rejected request before it reaches any exchange.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// ExchangeError reports a failure surfaced by a venue API.
type ExchangeError struct {
	Exchange Name
	Op       string
	Code     string
	Msg      string
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: [%s] %s", e.Exchange, e.Op, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Exchange, e.Op, e.Msg)
}

// StateError reports an illegal order state transition.
type StateError struct {
	From OrderState
	To   OrderState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid order state transition %s -> %s", e.From, e.To)
}

// StreamError reports a websocket stream that gave up after bounded retries.
type StreamError struct {
	Exchange Name
	Msg      string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream: %s", e.Exchange, e.Msg)
}
