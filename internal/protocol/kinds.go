// Package protocol classifies kid tracker message kinds and decodes persisted
// message payloads into locations, links, positions and snapshots.
package protocol

const (
	TypeLocation      = "UD"
	TypeLocationExtra = "UD2"
	TypeAlarm         = "AL"
	TypeLink          = "LK"
)

// LocationTypes are the message kinds that carry a GPS fix.
var LocationTypes = []string{TypeLocation, TypeLocationExtra, TypeAlarm}

// LinkTypes are the message kinds that carry link status.
var LinkTypes = []string{TypeLink}

// IsLocation reports whether kind is a location-class message kind.
func IsLocation(kind string) bool {
	for _, t := range LocationTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// IsLink reports whether kind is a link-class message kind.
func IsLink(kind string) bool {
	return kind == TypeLink
}

// SnapshotTypes returns location-class and link-class kinds together.
func SnapshotTypes() []string {
	kinds := make([]string, 0, len(LocationTypes)+len(LinkTypes))
	kinds = append(kinds, LocationTypes...)
	return append(kinds, LinkTypes...)
}
