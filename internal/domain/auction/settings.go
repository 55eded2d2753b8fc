package auction

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Setting is a generic key/value row. Beyond durable configuration it
// carries ephemeral per-auction coordination state, namespaced by
// auction id. That state is created on first write, read by the
// monitor every poll, and must be cleared by the finalizer; any of it
// surviving a closed auction is leaked state.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ephemeral per-auction setting keys.
func LastBidKey(id uuid.UUID) string      { return fmt.Sprintf("last_bid_ts_%s", id) }
func PromoKey(id uuid.UUID) string        { return fmt.Sprintf("promo_ts_%s", id) }
func PanelMessageKey(id uuid.UUID) string { return fmt.Sprintf("panel_msg_%s", id) }
func PanelChannelKey(id uuid.UUID) string { return fmt.Sprintf("panel_ch_%s", id) }

// EphemeralKeys lists every per-auction key the finalizer must clear.
func EphemeralKeys(id uuid.UUID) []string {
	return []string{
		LastBidKey(id),
		PromoKey(id),
		PanelMessageKey(id),
		PanelChannelKey(id),
	}
}

// FormatTimestamp encodes a time for storage in a setting value.
// Nanosecond precision matters here: the countdown's final re-read
// compares two of these to detect a bid landing in the same second.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// ParseTimestamp decodes a setting value written by FormatTimestamp.
// Empty or malformed values return the zero time and false.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}
