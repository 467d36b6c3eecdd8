package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnescape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"newline", `\n`, "\n"},
		{"carriage return", `\r`, "\r"},
		{"tab", `\t`, "\t"},
		{"nul", `\0`, "\x00"},
		{"backslash", `\\`, `\`},
		{"quotes", `\'\"`, `'"`},
		{"hex", `\x0d\x0a`, "\r\n"},
		{"hex upper", `\x1B`, "\x1b"},
		{"mixed", `OK\r\n`, "OK\r\n"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unescape(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnescapeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"trailing backslash", `abc\`},
		{"unknown escape", `\q`},
		{"truncated hex", `\x0`},
		{"bad hex digits", `\xzz`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unescape(tt.in)
			assert.Error(t, err)
		})
	}
}
