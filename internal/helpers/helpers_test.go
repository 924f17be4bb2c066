package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlobID(t *testing.T) {
	a := BlobID("https://cdn.krawl.app/media/photo-1.jpg")
	b := BlobID("https://cdn.krawl.app/media/photo-1.jpg")
	c := BlobID("https://cdn.krawl.app/media/photo-2.jpg")

	assert.Equal(t, a, b, "same URL must derive the same id")
	assert.NotEqual(t, a, c, "different URLs must derive different ids")
	assert.Len(t, a, 32, "id should be a 16-byte hex string")
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		input    uint64
		expected string
	}{
		{"Zero bytes", 0, "0B"},
		{"Bytes", 500, "500B"},
		{"Kilobytes", 2048, "2.00KB"},
		{"Megabytes", 5 * 1024 * 1024, "5.00MB"},
		{"Gigabytes", 3 * 1024 * 1024 * 1024, "3.00GB"},
		{"Fractional", 1536, "1.50KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BytesToSize(tt.input))
		})
	}
}

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple name", "Old Town Walk", "old_town_walk"},
		{"Colon", "Lisbon: Hidden Gems", "lisbon-hidden_gems"},
		{"Special characters", "Café & Bars!", "caf_bars"},
		{"Leading and trailing space", "  Riverside  ", "riverside"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertToSlug(tt.input))
		})
	}
}
