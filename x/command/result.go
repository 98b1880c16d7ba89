package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the companion's reply to a Command.
//
// When Success is true Value holds the reply and Error is empty. When it is
// false Error describes the failure; Cause keeps the local Go error for
// failures produced on this side of the bridge so errors.Is keeps working.
type Result struct {
	Success bool   `json:"success"`
	Value   Value  `json:"value"`
	Error   string `json:"error,omitempty"`
	Cause   error  `json:"-"`
}

// Success builds a successful Result carrying v.
func Success(v Value) Result {
	return Result{Success: true, Value: v}
}

// Failure builds a failed Result from err.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return Result{Success: false, Error: err.Error(), Cause: err}
}

// Err returns nil for a successful Result and the failure otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Cause != nil {
		return r.Cause
	}
	return &RemoteError{Message: r.Error}
}

// RemoteError is a failure reported by the companion itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "companion error: " + e.Message
}

// resultWire is the structured reply shape.
type resultWire struct {
	Success *bool           `json:"success"`
	Value   json.RawMessage `json:"value"`
	Error   json.RawMessage `json:"error"`
}

// legacyWire is the CommandReturn shape older companions reply with.
type legacyWire struct {
	ReturnValue  json.RawMessage `json:"returnValue"`
	Confirmation *struct {
		Message   string          `json:"message"`
		ErrorCode json.RawMessage `json:"errorCode"`
	} `json:"confirmation"`
}

// DecodeResult interprets a result payload.
//
// Three shapes are accepted: the structured {"success":..,"value":..,"error":..}
// object, the older {"returnValue":..,"confirmation":{..}} object, and any
// other value, which is taken as a successful bare reply (e.g. "pong").
func DecodeResult(raw json.RawMessage) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Success(RawValue(raw)), nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Result{}, fmt.Errorf("failed to decode result: %w", err)
	}

	if _, ok := probe["success"]; ok {
		var w resultWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return Result{}, fmt.Errorf("failed to decode result: %w", err)
		}
		if w.Success != nil && *w.Success {
			return Success(RawValue(w.Value)), nil
		}
		return Result{Success: false, Error: errorMessage(w.Error, "companion reported failure")}, nil
	}

	if _, ok := probe["confirmation"]; ok {
		var w legacyWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return Result{}, fmt.Errorf("failed to decode result: %w", err)
		}
		if w.Confirmation == nil {
			return Success(RawValue(w.ReturnValue)), nil
		}
		code := bytes.TrimSpace(w.Confirmation.ErrorCode)
		if len(code) == 0 || bytes.Equal(code, []byte("null")) {
			return Success(RawValue(w.ReturnValue)), nil
		}
		message := w.Confirmation.Message
		if code[0] == '"' && message != "" {
			// A bare code names the failure; the message describes it.
			return Result{Success: false, Error: errorMessage(code, "") + ": " + message}, nil
		}
		if message == "" {
			message = "companion reported failure"
		}
		return Result{Success: false, Error: errorMessage(code, message)}, nil
	}

	return Success(RawValue(raw)), nil
}

// errorMessage extracts a message from a string or an error-like object.
func errorMessage(raw json.RawMessage, fallback string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}

	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Name != "" {
			return obj.Name + ": " + obj.Message
		}
		return obj.Message
	}
	return fallback
}

// EncodeResult returns the structured wire form of r.
func EncodeResult(r Result) (json.RawMessage, error) {
	w := struct {
		Success bool            `json:"success"`
		Value   json.RawMessage `json:"value"`
		Error   string          `json:"error,omitempty"`
	}{Success: r.Success, Value: r.Value.Raw(), Error: r.Error}
	if !r.Success && w.Error == "" {
		w.Error = "companion reported failure"
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}
