package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// GenesisHash stands in for the previous hash of the first block.
var GenesisHash = "GENESIS_" + strings.Repeat("0", 56)

// TimestampLayout is the canonical stored and hashed timestamp form.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in UTC with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reverses FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// BlockHash commits to the previous hash, action, timestamp and actor.
// Detail is not part of the input.
func BlockHash(prev string, action Action, ts, actor string) string {
	sum := sha256.Sum256([]byte(prev + "|" + string(action) + "|" + ts + "|" + actor))
	return hex.EncodeToString(sum[:])
}

// ContentHash is the audit entry digest over action, detail and actor.
func ContentHash(action Action, detail, actor string) string {
	sum := sha256.Sum256([]byte(string(action) + detail + actor))
	return hex.EncodeToString(sum[:])
}
