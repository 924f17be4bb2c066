package helpers

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// BlobID derives the content id for a media blob from its source URL.
// Many stops may reference the same URL (shared category icons); hashing
// the URL gives them the same id so the blob is stored and fetched once.
func BlobID(sourceURL string) string {
	sum := blake3.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:16])
}

// BytesToSize converts a byte count into a human readable string.
func BytesToSize(bytes uint64) string {
	const unit = 1024
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(unit)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	val := float64(bytes) / math.Pow(unit, float64(i))
	if i == 0 {
		return fmt.Sprintf("%d%s", bytes, sizes[i])
	}
	return fmt.Sprintf("%.2f%s", val, sizes[i])
}

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9\s_.-]`)
	slugSpaces       = regexp.MustCompile(`\s+`)
)

// ConvertToSlug normalizes a display name into a filesystem/key safe slug.
func ConvertToSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, ":", "-")
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugSpaces.ReplaceAllString(slug, "_")
	slug = strings.ReplaceAll(slug, "_-", "-")
	slug = strings.ReplaceAll(slug, "-_", "-")
	return strings.Trim(slug, "_-")
}
