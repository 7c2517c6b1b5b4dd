// Package identity provides the two disjoint message/conversation id domains:
// client-generated provisional ids and server-assigned ids.
//
// Provisional ids exist only while a turn is in flight on the client. They are
// tagged with a "local-" prefix so that no provisional id can ever collide
// with, or be mistaken for, a server-assigned id.
package identity

import (
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	provisionalPrefix = "local-"

	// counterBound keeps the rolling counter small; combined with the
	// nanosecond clock it makes ids distinct within the same instant.
	counterBound = 1 << 12
)

var (
	rolling uint32

	serverIDPattern = regexp.MustCompile(`^(conv|msg)_[a-f0-9-]{36}$`)
)

// NewProvisionalID returns a process-local, monotonically distinct id for a
// message that has not been confirmed by the server yet.
func NewProvisionalID() string {
	n := atomic.AddUint32(&rolling, 1) % counterBound
	return provisionalPrefix +
		strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(uint64(n), 36)
}

// NewConversationID returns a server-assigned conversation id.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}

// NewMessageID returns a server-assigned message id.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// IsProvisional reports whether id belongs to the client-generated domain.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// IsServerAssigned reports whether id belongs to the server-assigned domain.
func IsServerAssigned(id string) bool {
	return serverIDPattern.MatchString(id)
}
