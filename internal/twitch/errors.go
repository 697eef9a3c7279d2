package twitch

import "errors"

// ErrRequestExhausted is returned once the request engine has used up
// all retry attempts on transient failures.
var ErrRequestExhausted = errors.New("request failed after all retry attempts")

// GQLError carries the first server-provided message from a structured
// error list in an otherwise well-formed GraphQL response.
type GQLError struct {
	Message string
}

func (e *GQLError) Error() string {
	return "gql error: " + e.Message
}
