package analyzer

import (
	"errors"
	"strings"
)

// permanentMarkers is the fixed acceptance table for permanent failures
// reported as plain errors. Classification by substring is fragile but the
// set is preserved as-is from the reference system; structured Error codes
// are the primary signal and this table is the fallback.
var permanentMarkers = []string{
	"exit status 128",
	"authentication failed",
	"could not read username",
	"repository not found",
	"access denied",
	"invalid credentials",
}

// IsPermanent reports whether err is a non-retryable analyzer failure.
// A structured *Error code wins; otherwise the error text is matched
// against the permanent-failure acceptance table.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Code == CodePermanent
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
