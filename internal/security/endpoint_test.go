package security

import "testing"

func TestValidateOutboundURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public ip literal", "https://93.184.216.34/simple/price", false},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "https://", true},
		{"localhost", "http://localhost:8080/prices", true},
		{"loopback literal", "http://127.0.0.1/prices", true},
		{"private literal", "http://10.0.0.5/prices", true},
		{"link local literal", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified", "http://0.0.0.0/", true},
		{"cloud metadata host", "http://metadata.google.internal/computeMetadata", true},
		{"garbage", "://nope", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutboundURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
