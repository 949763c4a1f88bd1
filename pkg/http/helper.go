package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "courtslots/pkg/errors"
)

const (
	HeaderUserID       = "X-User-ID"
	QueryUserID        = "user_id"
	HeaderRequestID    = "X-Request-ID"
	HeaderIdempotency  = "Idempotency-Key"
	ContentTypeJSON    = "application/json"
	HeaderContentType  = "Content-Type"
	maxUserIDLength    = 128
	errMsgMissingUser  = "missing user identity"
	errMsgUserTooLong  = "user identity too long"
	errMsgInvalidJSON  = "invalid JSON body"
	errMsgBodyTooLarge = "request body too large"
)

// UserID reads the caller identity stamped by the upstream gateway. Browsers
// cannot set headers on a websocket upgrade, so the query parameter is
// accepted as well.
func UserID(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if user == "" {
		user = strings.TrimSpace(r.URL.Query().Get(QueryUserID))
	}
	if user == "" {
		return "", apperrors.Unauthorized(errMsgMissingUser)
	}
	if len(user) > maxUserIDLength {
		return "", apperrors.InvalidInput(errMsgUserTooLong)
	}
	return user, nil
}

func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.New(apperrors.CodeInvalidInput, errMsgBodyTooLarge, http.StatusRequestEntityTooLarge)
		}
		return apperrors.InvalidInput(errMsgInvalidJSON)
	}
	return nil
}
