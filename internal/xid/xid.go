// Package xid generates prefixed, collision-resistant identifiers for
// persisted entities (trx-..., prd-..., audit-...).
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an id of the form "<prefix>-<unix-nanos>-<8 random bytes hex>".
// If crypto/rand fails it degrades to the timestamp-only form.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
