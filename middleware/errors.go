package middleware

import (
	"encoding/json"
	"net/http"

	wardAuth "github.com/MrEthical07/wardAuth"
)

// ErrorBody is the JSON shape of every rejected request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var messages = map[string]string{
	wardAuth.CodeInvalidCredentials:      "invalid username or password",
	wardAuth.CodeAccountLocked:           "account is temporarily locked",
	wardAuth.CodeTokenInvalid:            "access token is missing or invalid",
	wardAuth.CodeTokenExpired:            "access token has expired",
	wardAuth.CodeSessionNotFound:         "session is no longer active",
	wardAuth.CodeSessionExpired:          "session expired after inactivity",
	wardAuth.CodeInvalidSession:          "session is no longer active",
	wardAuth.CodeRefreshReplay:           "refresh token has already been used",
	wardAuth.CodeTooManySessions:         "too many active sessions",
	wardAuth.CodeInsufficientRole:        "insufficient role",
	wardAuth.CodeInsufficientPermissions: "insufficient permissions",
	wardAuth.CodeResourceAccessDenied:    "access to this resource is denied",
	wardAuth.CodeRateLimited:             "too many requests",
	wardAuth.CodeInternal:                "internal error",
}

// WriteError answers err with its classified status and a JSON body. Internal
// details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	cat, code := wardAuth.Classify(err)
	if code == "" {
		code = wardAuth.CodeInternal
	}
	status := cat.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: messages[code]}})
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
