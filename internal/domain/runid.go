package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var runIDPattern = regexp.MustCompile(`^RUN_[A-Z0-9]{26,40}$`)

// NewRunID returns an opaque, sortable run token: hex millisecond timestamp
// followed by 10 random bytes.
func NewRunID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to clock only.
		return fmt.Sprintf("RUN_%X%016X", time.Now().UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("RUN_%X%s", time.Now().UnixMilli(), strings.ToUpper(hex.EncodeToString(b)))
}

func IsValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}
