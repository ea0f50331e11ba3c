package supabase

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error is a failure reported by PostgREST or GoTrue.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// PostgREST answers a single-row request that matched nothing with this code.
const codeNoRows = "PGRST116"

func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             any    `json:"code"`
		ErrorCode        string `json:"error_code"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return &Error{Code: "unknown", Message: msg, StatusCode: statusCode}
	}

	// GoTrue sends a numeric code and a separate error_code; PostgREST sends a string code.
	code, _ := errResp.Code.(string)
	if errResp.ErrorCode != "" {
		code = errResp.ErrorCode
	}

	msg := firstNonEmpty(errResp.Message, errResp.Msg, errResp.ErrorDescription, errResp.Error, http.StatusText(statusCode))

	return &Error{
		Code:       code,
		Message:    msg,
		Details:    errResp.Details,
		Hint:       errResp.Hint,
		StatusCode: statusCode,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNotFound reports whether err is a single-row miss.
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Code == codeNoRows || e.StatusCode == http.StatusNotAcceptable
}

// IsEmailNotConfirmed reports whether GoTrue refused a sign-in because the address is unconfirmed.
func IsEmailNotConfirmed(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	if e.Code == "email_not_confirmed" {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "confirm")
}

// IsUnauthorized reports whether GoTrue rejected the access token. Depending on the version it
// answers 401 or 403 for a bad or expired JWT.
func IsUnauthorized(err error) bool {
	e, ok := AsError(err)
	return ok && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}
