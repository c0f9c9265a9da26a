package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// BuildVisitorHash creates a privacy-first pseudo-identifier from request
// facts. The hash rotates daily at midnight UTC so visitors cannot be tracked
// across days, and the IP address is never stored - only hashed.
func BuildVisitorHash(site, ipAddress, userAgent, screen, locale, salt string) string {
	today := time.Now().UTC().Format("2006-01-02")
	dailySalt := fmt.Sprintf("%s-%s", today, salt)
	data := fmt.Sprintf("%s.%s.%s.%s.%s.%s", dailySalt, site, ipAddress, userAgent, screen, locale)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
