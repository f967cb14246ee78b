package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateModulePath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-grpc-server", true},
		{"github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-gateway-server", true},
		{"./cmd/server", true},
		{"./examples/internal/cmd/example_server", true},
		{"", false},
		{"-toolexec=/bin/sh", false},
		{"./", false},
		{"./../outside", false},
		{"./cmd/../../outside", false},
		{"./cmd//server", false},
		{"github.com/foo/bar baz", false},
		{"github.com/foo/bar;rm", false},
		{"github.com/foo/$(id)", false},
		{"github.com/foo/bar\n", false},
		{"/abs/path", false},
		{"github.com/foo/.hidden", false},
		{"./cmd/.cache/server", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateModulePath(tt.path)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidModulePath)
			}
		})
	}
}
