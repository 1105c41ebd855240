package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (s *ErrorTestSuite) TestNewLedgerError() {
	err := NewLedgerError(ErrInsufficientFunds, "balance too low")

	s.Equal(ErrInsufficientFunds, err.Code)
	s.Equal("balance too low", err.Message)
	s.Nil(err.Err)
}

func (s *ErrorTestSuite) TestWrapError() {
	underlying := errors.New("database is locked")

	err := WrapError(ErrStoreUnavailable, "append entry", underlying)

	s.Equal(ErrStoreUnavailable, err.Code)
	s.ErrorIs(err, underlying, "wrapped error should stay reachable")
}

func (s *ErrorTestSuite) TestErrorString() {
	testCases := []struct {
		name     string
		err      *LedgerError
		expected string
	}{
		{
			name:     "Simple error",
			err:      NewLedgerError(ErrNotActive, "membership expired"),
			expected: "NOT_ACTIVE: membership expired",
		},
		{
			name:     "Wrapped error",
			err:      WrapError(ErrStoreUnavailable, "append entry", errors.New("disk full")),
			expected: "STORE_UNAVAILABLE: append entry (disk full)",
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.Equal(tc.expected, tc.err.Error())
		})
	}
}

func (s *ErrorTestSuite) TestIsLedgerError() {
	ledgerErr := NewLedgerError(ErrAlreadyDecided, "request already approved")

	testCases := []struct {
		name     string
		err      error
		code     ErrorCode
		expected bool
	}{
		{"Matching code", ledgerErr, ErrAlreadyDecided, true},
		{"Other code", ledgerErr, ErrNotFound, false},
		{"Wrapped by fmt", fmt.Errorf("decide: %w", ledgerErr), ErrAlreadyDecided, true},
		{"Plain error", errors.New("boom"), ErrAlreadyDecided, false},
		{"Nil error", nil, ErrAlreadyDecided, false},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.Equal(tc.expected, IsLedgerError(tc.err, tc.code))
		})
	}
}

func (s *ErrorTestSuite) TestAs() {
	ledgerErr := NewLedgerError(ErrNotFound, "no such request")

	var target *LedgerError
	s.True(As(fmt.Errorf("lookup: %w", ledgerErr), &target))
	s.Equal(ledgerErr, target)

	s.False(As(errors.New("regular"), &target))
	s.False(As(nil, &target))
	s.False(As(ledgerErr, nil))
}

func (s *ErrorTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyDecided, http.StatusConflict},
		{ErrInvalidState, http.StatusConflict},
		{ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ErrExchangeDisabled, http.StatusUnprocessableEntity},
		{ErrNotActive, http.StatusUnprocessableEntity},
		{ErrStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		s.Run(string(tc.code), func() {
			s.Equal(tc.expected, HTTPStatus(NewLedgerError(tc.code, "x")))
		})
	}

	s.Equal(http.StatusInternalServerError, HTTPStatus(errors.New("unknown")))
}
