package shortid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns an 8-character lowercase hex id. Receipts quote these ids, so
// they stay short; uniqueness is enforced at commit time by the ledger, which
// retries on collision.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewPrefixed returns a prefixed short id for records that never appear on a
// receipt (movements, drawer entries, promotions).
func NewPrefixed(prefix string) string {
	return prefix + "-" + New()
}
