package http

import (
	"errors"
	"net/http"

	"github.com/thebtf/memengine/internal/errs"
)

// writeError maps a service-layer error onto an HTTP status per §7's taxonomy, without
// leaking the underlying error's internals to the caller.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var typed *errs.Error
	if errors.As(err, &typed) {
		switch typed.Kind {
		case errs.Validation:
			status, msg = http.StatusBadRequest, "invalid request"
		case errs.Filtered:
			status, msg = http.StatusUnprocessableEntity, "filtered"
		case errs.TransientIO:
			status, msg = http.StatusServiceUnavailable, "temporarily unavailable"
		case errs.Semantic:
			status, msg = http.StatusInternalServerError, "could not interpret judge response"
		case errs.Configuration, errs.PermanentIO:
			status, msg = http.StatusInternalServerError, "internal error"
		}
	}
	http.Error(w, msg, status)
}
