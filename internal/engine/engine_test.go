package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNoConversation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNoConversation, true},
		{"wrapped sentinel", fmt.Errorf("connect: %w", ErrNoConversation), true},
		{"cli text", errors.New("No conversation found to continue"), true},
		{"session text", errors.New("Session not found for directory"), true},
		{"unrelated", errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoConversation(tt.err))
		})
	}
}
