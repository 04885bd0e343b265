package goSession

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
)

const (
	eventLoginSuccess          = "login_success"
	eventLoginFailure          = "login_failure"
	eventRegisterSuccess       = "register_success"
	eventRegisterFailure       = "register_failure"
	eventLogout                = "logout"
	eventForcedLogout          = "forced_logout"
	eventRefreshSuccess        = "refresh_success"
	eventRefreshFailure        = "refresh_failure"
	eventRefreshTokenMissing   = "refresh_token_missing"
	eventSessionRestored       = "session_restored"
	eventSessionRestoreFailure = "session_restore_failure"
	eventCurrentUserFailure    = "current_user_failure"
)

// EventErrorCode is the coarse error class recorded in SessionEvent.Error.
type EventErrorCode string

const (
	eventErrUnauthorized        EventErrorCode = "unauthorized"
	eventErrForbidden           EventErrorCode = "forbidden"
	eventErrBadRequest          EventErrorCode = "bad_request"
	eventErrServer              EventErrorCode = "server_error"
	eventErrHTTP                EventErrorCode = "http_error"
	eventErrTransport           EventErrorCode = "transport"
	eventErrCanceled            EventErrorCode = "canceled"
	eventErrRefreshTokenMissing EventErrorCode = "refresh_token_missing"
	eventErrMalformedResponse   EventErrorCode = "malformed_response"
	eventErrStoreUnavailable    EventErrorCode = "store_unavailable"
	eventErrCorruptRecord       EventErrorCode = "corrupt_record"
	eventErrInternal            EventErrorCode = "internal_error"
)

func (m *Manager) emitEvent(
	ctx context.Context,
	eventType string,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.events == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := SessionEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Subject:   m.Snapshot().Subject,
		Success:   success,
		Metadata:  metadata,
	}
	if requestID, ok := apiclient.RequestIDFromContext(ctx); ok {
		event.RequestID = requestID
	}
	if code := eventErrorCode(err); code != "" {
		event.Error = string(code)
	}

	m.events.Emit(ctx, event)
}

func eventErrorCode(err error) EventErrorCode {
	if err == nil {
		return ""
	}

	var httpErr *apiclient.HTTPError
	switch {
	case errors.Is(err, ErrRefreshTokenMissing):
		return eventErrRefreshTokenMissing
	case errors.As(err, &httpErr):
		switch {
		case httpErr.Status == http.StatusUnauthorized:
			return eventErrUnauthorized
		case httpErr.Status == http.StatusForbidden:
			return eventErrForbidden
		case httpErr.Status == http.StatusBadRequest,
			httpErr.Status == http.StatusConflict,
			httpErr.Status == http.StatusUnprocessableEntity:
			return eventErrBadRequest
		case httpErr.Status >= 500:
			return eventErrServer
		default:
			return eventErrHTTP
		}
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return eventErrCanceled
	case errors.Is(err, apiclient.ErrTransport),
		errors.Is(err, apiclient.ErrResponseTooLarge):
		return eventErrTransport
	case errors.Is(err, ErrMalformedAuthResponse):
		return eventErrMalformedResponse
	case errors.Is(err, credential.ErrCorruptRecord):
		return eventErrCorruptRecord
	case errors.Is(err, credential.ErrStoreUnavailable),
		errors.Is(err, ErrCredentialPersist):
		return eventErrStoreUnavailable
	default:
		return eventErrInternal
	}
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}
