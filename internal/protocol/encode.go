package protocol

import (
	"fmt"
	"math"
	"strings"

	"github.com/ukydev/kid-tracker/internal/models"
)

// FormatLocation renders loc as a location-class payload that ToLocation
// accepts. The payload time is loc.FixTime, or loc.Time when no fix time
// is set.
func FormatLocation(loc models.Location) string {
	validity, ns, ew := "V", "N", "E"
	if loc.Valid {
		validity = "A"
	}
	if loc.Latitude < 0 {
		ns = "S"
	}
	if loc.Longitude < 0 {
		ew = "W"
	}
	t := loc.FixTime
	if t.IsZero() {
		t = loc.Time
	}
	t = t.UTC()
	return strings.Join([]string{
		t.Format("020106"),
		t.Format("150405"),
		validity,
		fmt.Sprintf("%.6f", math.Abs(loc.Latitude)),
		ns,
		fmt.Sprintf("%.6f", math.Abs(loc.Longitude)),
		ew,
		fmt.Sprintf("%.2f", loc.Speed),
		fmt.Sprintf("%.1f", loc.Course),
		fmt.Sprintf("%.1f", loc.Altitude),
		fmt.Sprint(loc.Satellites),
		fmt.Sprint(loc.GSM),
		fmt.Sprint(loc.Battery),
		fmt.Sprint(loc.Pedometer),
		fmt.Sprint(loc.Rolls),
		fmt.Sprintf("%08x", loc.Status),
	}, ",")
}

// FormatLink renders link as a link-class payload.
func FormatLink(link models.Link) string {
	return fmt.Sprintf("%d,%d,%d", link.Pedometer, link.Rolls, link.Battery)
}
