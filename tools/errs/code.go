package errs

import "net/http"

// General codes follow HTTP semantics; 1xxx codes refine them per domain
// class and are related back to their parent code below.
const (
	ServerInternalError = 500
	ArgsError           = 400
	AuthFailedError     = 401
	PermissionError     = 403
	RecordNotFoundError = 404
	DuplicateKeyError   = 409

	TokenExpiredError = 1101
	TokenInvalidError = 1102
	TokenRevokedError = 1103
	TokenSubjectError = 1104
	UnknownUserError  = 1105

	ProtocolFormatError = 1201
	UnknownEventError   = 1202

	NotParticipantError = 1301
	SelfReadError       = 1302

	StoreError     = 1401
	TransportError = 1402
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "InternalServerError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrAuthFailed     = NewCodeError(AuthFailedError, "AuthenticationFailed")
	ErrPermission     = NewCodeError(PermissionError, "PermissionDenied")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFound")
	ErrDuplicateKey   = NewCodeError(DuplicateKeyError, "DuplicateKey")

	ErrTokenExpired = NewCodeError(TokenExpiredError, "TokenExpired")
	ErrTokenInvalid = NewCodeError(TokenInvalidError, "TokenInvalid")
	ErrTokenRevoked = NewCodeError(TokenRevokedError, "TokenRevoked")
	ErrTokenSubject = NewCodeError(TokenSubjectError, "TokenSubjectMismatch")
	ErrUnknownUser  = NewCodeError(UnknownUserError, "UnknownUser")

	ErrProtocolFormat = NewCodeError(ProtocolFormatError, "InvalidFrame")
	ErrUnknownEvent   = NewCodeError(UnknownEventError, "UnknownEvent")

	ErrNotParticipant = NewCodeError(NotParticipantError, "NotChatParticipant")
	ErrSelfRead       = NewCodeError(SelfReadError, "CannotReadOwnMessage")

	ErrStore     = NewCodeError(StoreError, "StoreFailure")
	ErrTransport = NewCodeError(TransportError, "TransportFailure")
)

func init() {
	_ = DefaultCodeRelation.Add(AuthFailedError,
		TokenExpiredError, TokenInvalidError, TokenRevokedError,
		TokenSubjectError, UnknownUserError)
	_ = DefaultCodeRelation.Add(PermissionError,
		NotParticipantError, SelfReadError)
	_ = DefaultCodeRelation.Add(ServerInternalError, StoreError, TransportError)
}

// HTTPStatus maps err's code class onto an HTTP status for REST replies.
func HTTPStatus(err error) int {
	ce := CodeOf(err)
	if ce == nil {
		return http.StatusInternalServerError
	}
	switch {
	case ce.Code == ArgsError || ce.Code == ProtocolFormatError || ce.Code == UnknownEventError:
		return http.StatusBadRequest
	case ErrAuthFailed.Is(ce):
		return http.StatusUnauthorized
	case ErrPermission.Is(ce):
		return http.StatusForbidden
	case ce.Code == RecordNotFoundError:
		return http.StatusNotFound
	case ce.Code == DuplicateKeyError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
