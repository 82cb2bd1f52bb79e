package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{"json", "application/json"},
		{"JSON", "application/json"},
		{"csv", "text/csv"},
		{"CSV", "text/csv"},
		{"xml", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.expected, getContentType(tt.format))
		})
	}
}

func TestUploadResultStruct(t *testing.T) {
	result := UploadResult{
		Key:    "exports/2026/08/user123/task456-abc.json",
		URL:    "https://cdn.example.com/exports/2026/08/user123/task456-abc.json",
		Bucket: "my-bucket",
		Region: "us-east-1",
		Size:   2048,
	}

	assert.Equal(t, "exports/2026/08/user123/task456-abc.json", result.Key)
	assert.Equal(t, "my-bucket", result.Bucket)
	assert.Equal(t, int64(2048), result.Size)
}
