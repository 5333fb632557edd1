package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "valid", id: "agent-42", wantErr: nil},
		{name: "empty", id: "", wantErr: ErrEmptyField},
		{name: "separator", id: "a:b", wantErr: ErrInvalidInput},
		{name: "too long", id: strings.Repeat("x", 129), wantErr: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("agentId", tt.id)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateID() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateID() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ValidateID() error = %v, want wrapped ErrInvalidInput", err)
			}
		})
	}
}

func TestValidatePreviewChunks(t *testing.T) {
	zero := 0
	five := 5
	tests := []struct {
		name    string
		chunks  []PreviewChunk
		wantErr bool
	}{
		{name: "valid", chunks: []PreviewChunk{{Index: 0, Text: "a"}, {Index: 1, Text: "b", Metadata: ChunkMetadata{ParentIndex: &zero}}}},
		{name: "empty", chunks: nil, wantErr: true},
		{name: "gap in indexes", chunks: []PreviewChunk{{Index: 0, Text: "a"}, {Index: 2, Text: "b"}}, wantErr: true},
		{name: "blank text", chunks: []PreviewChunk{{Index: 0, Text: "  "}}, wantErr: true},
		{name: "forward parent", chunks: []PreviewChunk{{Index: 0, Text: "a", Metadata: ChunkMetadata{ParentIndex: &five}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePreviewChunks(tt.chunks)
			if tt.wantErr != (err != nil) {
				t.Errorf("ValidatePreviewChunks() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAgentDeletingIsInvalidState(t *testing.T) {
	if !errors.Is(ErrAgentDeleting, ErrInvalidState) {
		t.Fatal("ErrAgentDeleting must classify as ErrInvalidState")
	}
}
