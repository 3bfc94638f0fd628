package security

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeResolver returns canned addresses per host.
type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestValidateUpstreamURL(t *testing.T) {
	resolver := fakeResolver{
		"api-inference.huggingface.co": {"34.200.1.1"},
		"internal.corp":                {"10.1.2.3"},
	}

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"public https", "https://api-inference.huggingface.co/models/x", ""},
		{"public IP literal", "http://8.8.8.8/classify", ""},
		{"bad scheme", "ftp://api-inference.huggingface.co", "scheme"},
		{"no host", "https:///path", "host"},
		{"credentials", "https://user:pw@api-inference.huggingface.co", "credentials"},
		{"localhost", "http://localhost:8080", "not allowed"},
		{"metadata", "http://metadata.google.internal/computeMetadata", "not allowed"},
		{"loopback literal", "http://127.0.0.1/x", "loopback"},
		{"private literal", "http://192.168.1.10/x", "private"},
		{"link local", "http://169.254.169.254/latest", "link-local"},
		{"unspecified", "http://0.0.0.0/", "unspecified"},
		{"resolves private", "https://internal.corp/model", "blocked address"},
		{"unresolvable", "https://nowhere.invalid/model", "cannot resolve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpstreamURL(context.Background(), tt.url, resolver)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUpstreamURL_NilResolverSkipsLookup(t *testing.T) {
	if err := ValidateUpstreamURL(context.Background(), "https://internal.corp/model", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
