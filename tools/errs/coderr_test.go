package errs

import (
	"errors"
	"net/http"
	"testing"
)

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	e := ErrSelfRead.WithDetail("Cannot mark own message as read")
	if ErrSelfRead.DDetail() != "" {
		t.Fatal("WithDetail must not mutate the shared sentinel")
	}
	if e.DDetail() != "Cannot mark own message as read" {
		t.Fatalf("detail = %q", e.DDetail())
	}
	if e.ECode() != SelfReadError {
		t.Fatalf("code = %d", e.ECode())
	}

	chained := e.WithDetail("more")
	if chained.DDetail() != "Cannot mark own message as read, more" {
		t.Fatalf("chained detail = %q", chained.DDetail())
	}
}

func TestIsFollowsCodeRelations(t *testing.T) {
	cases := []struct {
		name   string
		class  *CodeError
		err    error
		expect bool
	}{
		{"expired is auth failure", ErrAuthFailed, ErrTokenExpired.Wrap(), true},
		{"revoked is auth failure", ErrAuthFailed, ErrTokenRevoked.WithDetail("x").Wrap(), true},
		{"unknown user is auth failure", ErrAuthFailed, ErrUnknownUser.Wrap(), true},
		{"subject mismatch is auth failure", ErrAuthFailed, ErrTokenSubject.Wrap(), true},
		{"permission is not auth failure", ErrAuthFailed, ErrPermission.Wrap(), false},
		{"self read is permission class", ErrPermission, ErrSelfRead.Wrap(), true},
		{"not participant is permission class", ErrPermission, ErrNotParticipant.Wrap(), true},
		{"store is internal class", ErrInternalServer, ErrStore.Wrap(), true},
		{"transport is internal class", ErrInternalServer, ErrTransport.Wrap(), true},
		{"transport is not auth", ErrAuthFailed, ErrTransport.Wrap(), false},
		{"same code matches", ErrTokenInvalid, ErrTokenInvalid.WrapMsg("why"), true},
		{"plain error matches nothing", ErrAuthFailed, errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.class.Is(tc.err); got != tc.expect {
				t.Fatalf("Is = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestCodeOfUnwraps(t *testing.T) {
	err := ErrNotParticipant.WithDetail("You are not a participant in this chat").Wrap()
	err = WrapMsg(err, "handling join", "chat", "c1")

	ce := CodeOf(err)
	if ce == nil {
		t.Fatal("CodeOf lost the coded error through wrapping")
	}
	if ce.Code != NotParticipantError {
		t.Fatalf("code = %d", ce.Code)
	}
	if CodeOf(errors.New("plain")) != nil {
		t.Fatal("plain errors carry no code")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrArgs.Wrap(), http.StatusBadRequest},
		{ErrTokenExpired.Wrap(), http.StatusUnauthorized},
		{ErrTokenRevoked.Wrap(), http.StatusUnauthorized},
		{ErrSelfRead.Wrap(), http.StatusForbidden},
		{ErrNotParticipant.Wrap(), http.StatusForbidden},
		{ErrRecordNotFound.Wrap(), http.StatusNotFound},
		{ErrDuplicateKey.Wrap(), http.StatusConflict},
		{ErrStore.Wrap(), http.StatusInternalServerError},
		{errors.New("anonymous"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanic(nil) != nil {
		t.Fatal("nil recover value must yield nil")
	}
	err := ErrPanic("index out of range")
	ce := CodeOf(err)
	if ce == nil || ce.Code != ServerInternalError {
		t.Fatalf("panic error = %v", err)
	}
	if ce.Detail != "index out of range" {
		t.Fatalf("detail = %q", ce.Detail)
	}
}
