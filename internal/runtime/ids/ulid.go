package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InboxPrefix is the first token of every generated reply subject.
const InboxPrefix = "_INBOX"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewInbox returns a fresh reply subject of the form _INBOX.<ulid>. The ULID
// alphabet contains no dots or wildcard characters, so the result is always a
// two-token literal subject.
func NewInbox() string {
	return InboxPrefix + "." + CreateULID()
}
