package redis

import "testing"

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{prefix: "arbbot:", parts: []string{"lock", "signer:0xabc"}, want: "arbbot:lock:signer:0xabc"},
		{prefix: "", parts: []string{"runs"}, want: "runs"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		if got := c.key(tt.parts...); got != tt.want {
			t.Errorf("key(%v) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}
