package logging

import "testing"

func TestMaskID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "ab", "ab****"},
		{"exactly four", "abcd", "abcd****"},
		{"snowflake", "123456789012345678", "1234****"},
		{"team id", "T0001", "T000****"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MaskID(tt.in); got != tt.want {
				t.Errorf("MaskID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4", "203.0.113.50", "203.0.*.*"},
		{"ipv6", "2001:db8::1", "2001:****"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MaskIP(tt.in); got != tt.want {
				t.Errorf("MaskIP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no sensitive keys", "returnTo=%2Fsettings&guildId=42", "returnTo=%2Fsettings&guildId=42"},
		{"code masked", "code=abcdef123456&foo=bar", "code=abcd%2A%2A%2A%2A&foo=bar"},
		{"state masked", "state=deadbeefcafe", "state=dead%2A%2A%2A%2A"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MaskSensitiveQuery(tt.in); got != tt.want {
				t.Errorf("MaskSensitiveQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
