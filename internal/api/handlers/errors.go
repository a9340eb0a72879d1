package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/store"
	"github.com/dvloznov/taxledger/internal/tax"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		parseErr      *parser.ParseError
		formatErr     *parser.UnsupportedFormatError
		balanceErr    *parser.BalanceMismatchError
		vatErr        *tax.UnknownVATRateError
		categoryErr   *tax.UnknownCategoryError
		duplicateErr  *tax.DuplicatePeriodError
		transitionErr *tax.InvalidTransitionError
	)

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &duplicateErr),
		errors.As(err, &transitionErr),
		errors.Is(err, store.ErrReportImmutable),
		errors.Is(err, store.ErrDuplicateReport),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrInvoiceNotOpen),
		errors.Is(err, store.ErrTransactionNotUnmatched):
		return http.StatusConflict
	case errors.As(err, &parseErr),
		errors.As(err, &formatErr),
		errors.As(err, &balanceErr),
		errors.As(err, &vatErr),
		errors.As(err, &categoryErr),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes it with the mapped status. Internal
// errors are not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logger.FromContext(r.Context())
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	log.Info().Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, err.Error())
}
