package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindsMatchWithErrorsIs(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("fund card: %w", RailUnknown("card funding outcome unknown", cause))

	if !errors.Is(err, ErrRailUnknown) {
		t.Fatalf("expected rail unknown kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrRailFailure) {
		t.Fatalf("did not expect rail failure kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Validation("bad amount"):          http.StatusBadRequest,
		InsufficientFunds("low balance"):  http.StatusBadRequest,
		NotFound("card not found"):        http.StatusNotFound,
		Conflict("duplicate", nil):        http.StatusConflict,
		RailFailure("rejected", nil):      http.StatusBadGateway,
		RailUnknown("timeout", nil):       http.StatusGatewayTimeout,
		Persistence("commit failed", nil): http.StatusInternalServerError,
		errors.New("boom"):                http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := HTTPStatus(err); got != want {
			t.Fatalf("%v: expected %d got %d", err, want, got)
		}
	}
}

func TestPublicHidesUnexpectedErrors(t *testing.T) {
	if got := Public(errors.New("pq: relation does not exist")); got != "operation failed, retry later" {
		t.Fatalf("unexpected public message %q", got)
	}
	if got := Public(Validation("card is frozen")); got != "card is frozen" {
		t.Fatalf("unexpected public message %q", got)
	}
}
