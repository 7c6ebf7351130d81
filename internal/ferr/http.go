package ferr

import "net/http"

// HTTPStatus maps an internal error to the HTTP status code spec.md §6
// mandates the gateway return. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case Is(err, ErrAuthMissing):
		return http.StatusUnauthorized
	case Is(err, ErrAuthInvalid):
		return http.StatusUnauthorized
	case Is(err, ErrScopeDenied):
		return http.StatusForbidden
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrDuplicateName):
		return http.StatusConflict
	case Is(err, ErrConflict):
		return http.StatusConflict
	case Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case Is(err, ErrInvalidCron):
		return http.StatusBadRequest
	case Is(err, ErrNoWritableTenant):
		return http.StatusConflict
	case Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case Is(err, ErrUpstreamTransient), Is(err, ErrUpstreamRateLimited):
		return http.StatusGatewayTimeout
	case Is(err, ErrUpstreamPermanent):
		return http.StatusBadGateway
	case Is(err, ErrCancelled):
		return http.StatusConflict
	case Is(err, ErrPersistenceCorrupt):
		return http.StatusInternalServerError
	case Is(err, ErrLocalIO):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a stable string identifier for the error, suitable for the
// {ok:false, error:{kind, message}} envelope in spec.md §4.7.
func Kind(err error) string {
	switch {
	case Is(err, ErrAuthMissing):
		return "AuthMissing"
	case Is(err, ErrAuthInvalid):
		return "AuthInvalid"
	case Is(err, ErrScopeDenied):
		return "ScopeDenied"
	case Is(err, ErrNotFound):
		return "NotFound"
	case Is(err, ErrDuplicateName):
		return "DuplicateName"
	case Is(err, ErrNoWritableTenant):
		return "NoWritableTenant"
	case Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case Is(err, ErrInvalidCron):
		return "InvalidCron"
	case Is(err, ErrUpstreamTransient):
		return "UpstreamTransient"
	case Is(err, ErrUpstreamPermanent):
		return "UpstreamPermanent"
	case Is(err, ErrUpstreamRateLimited):
		return "UpstreamRateLimited"
	case Is(err, ErrTimeout):
		return "Timeout"
	case Is(err, ErrLocalIO):
		return "LocalIo"
	case Is(err, ErrPersistenceCorrupt):
		return "PersistenceCorrupt"
	case Is(err, ErrCancelled):
		return "Cancelled"
	case Is(err, ErrConflict):
		return "Conflict"
	default:
		return "Internal"
	}
}
