package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// TransactionNumber builds a receipt number of the form
// PREFIX-YYYYMMDDHHMMSS-RANDOM where RANDOM carries 40 bits of entropy.
func TransactionNumber(prefix string, at time.Time) string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-%d", prefix, at.UTC().Format("20060102150405"), at.UnixNano()%1e10)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102150405"), strings.ToUpper(hex.EncodeToString(buf)))
}

// TenantPrefix returns the configured prefix, or the first four alphanumeric
// characters of the tenant id upper-cased. A leading "tenant-" stem is skipped
// so ids like tenant-demo and tenant-other get distinct prefixes.
func TenantPrefix(configured string, tenantID string) string {
	if p := sanitize(configured, 8); p != "" {
		return p
	}
	if p := sanitize(trimTenantStem(tenantID), 4); p != "" {
		return p
	}
	if p := sanitize(tenantID, 4); p != "" {
		return p
	}
	return "TX"
}

func trimTenantStem(id string) string {
	id = strings.TrimSpace(id)
	const stem = "tenant"
	if len(id) <= len(stem)+1 || !strings.EqualFold(id[:len(stem)], stem) {
		return id
	}
	switch id[len(stem)] {
	case '-', '_', '.', ':':
		return id[len(stem)+1:]
	}
	return id
}

func sanitize(raw string, limit int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if b.Len() >= limit {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
