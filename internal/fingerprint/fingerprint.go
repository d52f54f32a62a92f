// File: internal/fingerprint/fingerprint.go

// Package fingerprint computes the coarse structural hash used as a
// repost/dedup signal. It is deliberately collision-permissive: collisions
// only ever demote confidence downstream, never promote it.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizePhone strips a phone number down to comparable digits: all
// non-digits removed, the "370" country code or a lone leading "8" (on a
// 9-digit remainder) dropped. Returns "" when fewer than 8 digits remain,
// which callers treat as an absent phone.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "370") {
		digits = digits[3:]
	} else if strings.HasPrefix(digits, "8") && len(digits) == 9 {
		digits = digits[1:]
	}
	if len(digits) < 8 {
		return ""
	}
	return digits
}

// Compute hashes (floor, rounded area, rooms, normalized phone, district)
// into the repost fingerprint. Missing inputs collapse to fixed placeholders
// so that two listings missing the same field can still collide.
func Compute(floorCurrent *int, areaM2 *float64, rooms *int, phoneNormalized, district string) string {
	floor := 0
	if floorCurrent != nil {
		floor = *floorCurrent
	}
	area := 0
	if areaM2 != nil {
		area = int(*areaM2)
	}
	roomCount := 0
	if rooms != nil {
		roomCount = *rooms
	}
	phone := phoneNormalized
	if phone == "" {
		phone = "unknown"
	}
	districtNorm := strings.ToLower(strings.TrimSpace(district))
	if districtNorm == "" {
		districtNorm = "unknown"
	}

	raw := fmt.Sprintf("%d|%d|%d|%s|%s", floor, area, roomCount, phone, districtNorm)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
