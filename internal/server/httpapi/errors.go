package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps a taxonomy code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case common.CodeInvalidCredentials,
		common.CodeTokenInvalid,
		common.CodeTokenExpired,
		common.CodeTokenReuseDetected,
		common.CodeTokenAlreadyUsed:
		return http.StatusUnauthorized
	case common.CodeAccountUnverified, common.CodeUnauthorized:
		return http.StatusForbidden
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodeAlreadyExists, common.CodeConflict:
		return http.StatusConflict
	case common.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var messages = map[string]string{
	common.CodeInvalidCredentials: "email or password is incorrect",
	common.CodeAccountUnverified:  "account is not verified",
	common.CodeTokenInvalid:       "invalid token",
	common.CodeTokenExpired:       "token expired",
	common.CodeTokenReuseDetected: "token reuse detected, all sessions revoked",
	common.CodeTokenAlreadyUsed:   "token already used",
	common.CodeUnauthorized:       "unauthorized",
	common.CodeConflict:           "concurrent update, try again",
	common.CodeNotFound:           "not found",
	common.CodeAlreadyExists:      "already exists",
	common.CodeInternal:           "internal error",
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	code := common.Code(err)
	status := statusFor(code)

	msg, ok := messages[code]
	if code == common.CodeValidation || !ok {
		msg = err.Error()
	}
	if status == http.StatusInternalServerError {
		logging.LogError(ctx, s.logger, "request failed", err)
		msg = messages[common.CodeInternal]
	} else {
		s.logger.Debug(ctx, "request rejected", "path", r.URL.Path, "code", code)
	}

	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
