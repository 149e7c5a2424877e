package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:41234",
			want:       "203.0.113.5",
		},
		{
			name:       "forwarded header ignored without trust",
			remoteAddr: "10.0.0.1:41234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded header honored with trust",
			remoteAddr: "10.0.0.1:41234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "first forwarded entry wins",
			remoteAddr: "10.0.0.1:41234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 198.51.100.7"},
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:41234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.5"},
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.5",
			want:       "203.0.113.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}

			if got := GetClientIP(r, tc.trustProxy); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
