package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns a random 32 character hex id. It falls back to a
// timestamp-derived id if the system random source fails.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "cnv-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
