package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("checkin: %w", PaymentRequired("not enough visits remaining"))

	assert.True(t, errors.Is(err, ErrPaymentRequired))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindPaymentRequired, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindChargeDeclined, cause, "card charge failed")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrChargeDeclined)
	assert.Equal(t, "card charge failed: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("x"):          http.StatusNotFound,
		Conflict("x"):          http.StatusConflict,
		PaymentRequired("x"):   http.StatusPaymentRequired,
		InvalidInput("x"):      http.StatusBadRequest,
		ChargeDeclined("x"):    http.StatusPaymentRequired,
		Locked("x"):            http.StatusLocked,
		Unauthorized("x"):      http.StatusUnauthorized,
		RateLimited("x"):       http.StatusTooManyRequests,
		errors.New("whatever"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestAudience(t *testing.T) {
	assert.Equal(t, "staff", NotFound("x").Audience())
	assert.Equal(t, "staff", Conflict("x").Audience())
	assert.Equal(t, "member", PaymentRequired("x").Audience())
	assert.Equal(t, "member", Locked("x").Audience())
}
