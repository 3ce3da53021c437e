// Package requestid mints the identifiers that correlate request log
// lines with audit rows. Callers echo the id back in the X-Request-Id
// response header.
package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character lowercase hex token. The dashes of the
// underlying UUID are stripped so the id stays grep-friendly in logs.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
