package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// decodeResponse reads the envelope and maps failures onto *APIError.
// out may be nil when the caller does not need data.
func decodeResponse(op string, resp *http.Response, maxBytes int64, out any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if int64(len(body)) > maxBytes {
		return fmt.Errorf("%s: response exceeds %d bytes", op, maxBytes)
	}

	var env envelope
	envErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ae := &APIError{Op: op, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if envErr == nil {
			ae.Code = env.Code
			if env.Message != "" {
				ae.Message = env.Message
			}
		}
		return ae
	}

	if envErr != nil {
		return fmt.Errorf("%s: decode envelope: %w", op, envErr)
	}
	if env.Code != codeOK {
		return &APIError{Op: op, Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		if out != nil {
			return fmt.Errorf("%s: %w", op, errEmptyData)
		}
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

var errEmptyData = errors.New("empty data")
