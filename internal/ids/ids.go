// Package ids mints prefixed, time-sortable identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	PrefixThread   = "thr"
	PrefixMessage  = "msg"
	PrefixCampaign = "cmp"
	PrefixContact  = "ctc"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns prefix_ULID. ULIDs from one process are strictly increasing.
func New(prefix string) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return prefix + "_" + id.String()
}
