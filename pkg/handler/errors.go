package handler

import (
	"net/http"

	"github.com/s3compat/server/pkg/s3xml"
)

// apiError is an S3-shaped error response: a code, an HTTP status, and
// a human message. It is never used to carry internal detail to the
// client — Internal wraps the underlying cause for server-side logging
// only.
type apiError struct {
	Code    string
	Status  int
	Message string
	cause   error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *apiError) Unwrap() error { return e.cause }

func newAPIError(code string, status int, message string) *apiError {
	return &apiError{Code: code, Status: status, Message: message}
}

var (
	errNoSuchBucket = newAPIError("NoSuchBucket", http.StatusNotFound, "The specified bucket does not exist")
	errNoSuchKey    = newAPIError("NoSuchKey", http.StatusNotFound, "The specified key does not exist")
	errNoSuchUpload = newAPIError("NoSuchUpload", http.StatusNotFound, "The specified upload does not exist")

	errBucketAlreadyOwnedByYou = newAPIError("BucketAlreadyOwnedByYou", http.StatusConflict, "Your previous request to create the named bucket succeeded and you already own it")
	errBucketNotEmpty          = newAPIError("BucketNotEmpty", http.StatusConflict, "The bucket you tried to delete is not empty")

	errInvalidPart  = newAPIError("InvalidPart", http.StatusBadRequest, "One or more of the specified parts could not be found")
	errMalformedXML = newAPIError("MalformedXML", http.StatusBadRequest, "The XML you provided was not well-formed")

	errNotImplemented = newAPIError("NotImplemented", http.StatusNotImplemented, "A header or query parameter you provided requests a functionality that is not implemented")

	errAccessDenied = newAPIError("AccessDenied", http.StatusForbidden, "Access Denied")
)

// internalError wraps an unexpected filesystem or database error as
// an S3 InternalError response, logging the real cause server-side.
func internalError(cause error) *apiError {
	return &apiError{Code: "InternalError", Status: http.StatusInternalServerError, Message: "We encountered an internal error. Please try again.", cause: cause}
}

// writeError renders err (any error, not just *apiError) as the S3
// <Error> XML document with the appropriate status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*apiError)
	if !ok {
		apiErr = internalError(err)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.Status)
	_, _ = w.Write(s3xml.EncodeError(apiErr.Code, apiErr.Message, r.URL.Path))
}
