package storage

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURL(t *testing.T) {
	u, _ := url.Parse("https://minio.internal:9000")
	assert.Equal(t, "https://minio.internal:9000/raw/acme/r1/openai.json", objectURL(u, "raw", "acme/r1/openai.json"))
	assert.Equal(t, "http:///raw/k", objectURL(nil, "raw", "k"))
}
