package qdrant

import (
	"context"
	"testing"

	"github.com/poiesic/kbase/ai/mock"
	"github.com/stretchr/testify/assert"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewMockEmbedder()

	tests := []struct {
		name    string
		cfg     Config
		dims    int
		wantErr string
	}{
		{"no collection", Config{Host: "localhost", Port: 6334}, 64, "empty collection"},
		{"no dimensions", Config{Host: "localhost", Port: 6334, Collection: "kb"}, 0, "invalid vector size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.cfg, embedder, tt.dims)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	_, err := New(ctx, Config{Collection: "kb"}, nil, 64)
	assert.ErrorContains(t, err, "embedder is required")
}
