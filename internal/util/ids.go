package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed unique identifier, e.g. "job_5f4ae3...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
