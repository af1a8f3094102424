package octopus

import (
	"errors"
	"fmt"
	"net/http"
)

// CommunicationError is returned for every call that did not complete with
// a 2xx response: transport failures, authentication failures and server
// errors alike. It is the only error kind the workflow retry policy retries.
type CommunicationError struct {
	Method     string
	URL        string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *CommunicationError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("octopus %s %s: %v", e.Method, e.URL, e.Err)
	case e.Message != "":
		return fmt.Sprintf("octopus %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	default:
		return fmt.Sprintf("octopus %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// IsCommunicationError reports whether err (or anything it wraps) is a CommunicationError.
func IsCommunicationError(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}

// apiErrorBody is the error envelope Octopus returns on 4xx/5xx responses.
type apiErrorBody struct {
	ErrorMessage string   `json:"ErrorMessage"`
	Errors       []string `json:"Errors"`
}
