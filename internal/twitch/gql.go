package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GQL posts a persisted operation to the GraphQL endpoint and decodes the
// data payload into out (out may be nil when the caller only cares about
// success). A structured server error list comes back as *GQLError.
func (s *Session) GQL(ctx context.Context, op GQLOperation, out any) error {
	payload, err := json.Marshal(op.Body())
	if err != nil {
		return fmt.Errorf("encoding %s: %w", op.Name, err)
	}

	s.log.Debug("sending GQL request", zap.String("operation", op.Name))

	resp, err := s.Do(ctx, http.MethodPost, s.gqlURL, payload, http.Header{
		"Content-Type": {"application/json"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", op.Name, err)
	}

	var parsed gqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &GQLError{Message: fmt.Sprintf("malformed response: %.200s", body)}
	}

	if len(parsed.Errors) > 0 {
		message := parsed.Errors[0].Message
		if strings.Contains(strings.ToLower(message), "integrity") {
			s.log.Warn("integrity check failed; refresh Client-Integrity or switch to cookie auth")
		}
		return &GQLError{Message: message}
	}

	if out != nil && len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, out); err != nil {
			return fmt.Errorf("decoding %s data: %w", op.Name, err)
		}
	}

	return nil
}
