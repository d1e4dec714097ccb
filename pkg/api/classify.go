package api

import (
	stderrors "errors"
	"net"
	"net/http"
	"strconv"

	"github.com/tornflow/tornflow/pkg/errors"
)

// Upstream application-level error codes. The API reports failures as
// HTTP 200 with an error object in the body; these codes map onto the
// error taxonomy.
const (
	codeKeyEmpty     = 1
	codeKeyIncorrect = 2
	codeKeyPaused    = 10
	codeKeyDisabled  = 13
	codeAccessDenied = 16

	codeTooManyRequests = 5
	codeIPBlock         = 8
)

// classifyTransportError maps a transport-level failure onto the error
// taxonomy: deadline exceeded is a timeout, everything else network is
// a connection error.
func classifyTransportError(err error) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

// classifyStatus maps a non-2xx HTTP status onto the error taxonomy
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrorTypeRateLimit, "upstream returned 429")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeCredential, "upstream rejected credentials with status %d", status)
	case status >= 500:
		return errors.Newf(errors.ErrorTypeConnection, "upstream returned status %d", status)
	default:
		return errors.Newf(errors.ErrorTypeAPI, "upstream returned status %d", status)
	}
}

// extractAPIError detects the in-band error object some responses carry
// ({"error": {"code": N, "error": "..."}}) and classifies it. Credential
// codes are terminal; rate-limit codes are retryable.
func extractAPIError(raw RawResponse) error {
	obj, ok := raw["error"].(map[string]interface{})
	if !ok {
		return nil
	}

	code := 0
	if f, ok := obj["code"].(float64); ok {
		code = int(f)
	}
	msg, _ := obj["error"].(string)
	if msg == "" {
		msg = "unspecified upstream error"
	}

	var err *errors.Error
	switch code {
	case codeKeyEmpty, codeKeyIncorrect, codeKeyPaused, codeKeyDisabled, codeAccessDenied:
		err = errors.Newf(errors.ErrorTypeCredential, "upstream error %d: %s", code, msg)
	case codeTooManyRequests, codeIPBlock:
		err = errors.Newf(errors.ErrorTypeRateLimit, "upstream error %d: %s", code, msg)
	default:
		err = errors.Newf(errors.ErrorTypeAPI, "upstream error %d: %s", code, msg)
	}
	return err.WithDetail("code", code)
}

// asError unwraps err into a typed *errors.Error
func asError(err error, target **errors.Error) bool {
	return stderrors.As(err, target)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
