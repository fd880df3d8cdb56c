// Package reconcile implements the rule a client follows to merge a locally
// optimistic message with the server-confirmed one without duplicates.
// Exact correlation via the server-echoed provisional id is preferred; the
// timestamp-tolerance match is the fallback for clients that never saw their
// provisional id come back (e.g. a poll refresh racing the broadcast).
package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/mercura/order-chat/internal/models"
)

// ProvisionalPrefix marks client-generated placeholder identifiers.
const ProvisionalPrefix = "temp-"

// IsProvisional reports whether an id is a client-generated placeholder
// rather than a server-assigned identity.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Confirmed is a server-confirmed message together with the provisional id
// the server echoed back, when the client supplied one.
type Confirmed struct {
	Message  models.Message
	ClientID string
}

// Matches reports whether a confirmed message is the same logical message as
// a local (possibly provisional) one. window bounds the timestamp fuzz for
// the fallback match.
func Matches(local models.Message, confirmed Confirmed, window time.Duration) bool {
	// Exact: the server echoed our provisional id back.
	if confirmed.ClientID != "" && confirmed.ClientID == local.ID {
		return true
	}

	// Already authoritative on both sides.
	if !IsProvisional(local.ID) {
		return local.ID == confirmed.Message.ID
	}

	// Fuzzy fallback: same triple within the tolerance window.
	if local.UserID != confirmed.Message.UserID ||
		local.Content != confirmed.Message.Content ||
		local.SenderType != confirmed.Message.SenderType {
		return false
	}
	delta := confirmed.Message.CreatedAt.Sub(local.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// Merge folds server-confirmed messages into the client's local view.
// Matched provisional entries are replaced by their authoritative versions,
// unseen confirmed messages are appended, and the result is re-sorted by
// created_at. Nothing is ever duplicated: each confirmed message consumes at
// most one local entry, and each local entry is consumed at most once.
func Merge(local []models.Message, confirmed []Confirmed, window time.Duration) []models.Message {
	consumed := make([]bool, len(local))
	merged := make([]models.Message, 0, len(local)+len(confirmed))

	for _, c := range confirmed {
		for i := range local {
			if consumed[i] {
				continue
			}
			if Matches(local[i], c, window) {
				consumed[i] = true
				break
			}
		}
		merged = append(merged, c.Message)
	}

	// Keep local entries the server hasn't confirmed yet (in-flight sends).
	for i := range local {
		if !consumed[i] && IsProvisional(local[i].ID) {
			merged = append(merged, local[i])
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})

	return merged
}
