// Package uidgen generates the random 128-bit identifiers used as
// MultipartUpload ids, rendered in canonical UUID string form.
package uidgen

import "github.com/google/uuid"

// New returns a new random UUID in canonical string form, e.g.
// "f47ac10b-58cc-4372-a567-0e02b2c3d479".
func New() string {
	return uuid.NewString()
}
