package httpclient

import (
	"encoding/json"
	"fmt"

	"github.com/miruml/agent/internal/agenterr"
)

// errorBody is the backend's error envelope, per spec.md §6.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const errorCodeInvalidJWTAuth = "invalid_jwt_auth"

// classifyStatus maps a non-2xx response into an *agenterr.Error, consuming
// the opportunistically-parsed error_code to distinguish an auth failure
// from a generic server error, per spec.md §4.4's failure taxonomy.
func classifyStatus(location string, statusCode int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb) // opportunistic; absence of a body is fine

	msg := fmt.Sprintf("status %d", statusCode)
	if eb.Error.Message != "" {
		msg = fmt.Sprintf("status %d: %s", statusCode, eb.Error.Message)
	}

	if eb.Error.Code == errorCodeInvalidJWTAuth {
		return agenterr.New(agenterr.KindHTTPAuth, location, msg)
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return agenterr.New(agenterr.KindHTTPAuth, location, msg)
	case statusCode >= 500:
		return agenterr.New(agenterr.KindHTTPTransient, location, msg)
	case statusCode >= 400:
		return agenterr.New(agenterr.KindHTTPPermanent, location, msg)
	default:
		return agenterr.New(agenterr.KindHTTPTransient, location, msg)
	}
}
