package tracing

import (
	"context"
	"testing"
)

func TestProviderConfigurations(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{
			name: "disabled yields no-op provider",
			cfg:  Config{Enabled: false},
		},
		{
			name:        "enabled without endpoint",
			cfg:         Config{Enabled: true},
			expectError: true,
		},
		{
			name: "TLS with insecure skip verify",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:        "TLS with missing CA certificate",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			expectError: true,
		},
		{
			name: "no TLS",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if provider != nil && provider.IsEnabled() != tt.cfg.Enabled {
				t.Errorf("provider enabled=%v, want %v", provider.IsEnabled(), tt.cfg.Enabled)
			}
		})
	}
}

func TestDisabledProviderLifecycle(t *testing.T) {
	provider, err := NewProvider(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := provider.Start(context.Background()); err != nil {
		t.Errorf("start: %v", err)
	}
	if err := provider.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}
	if provider.GetTracer("test") == nil {
		t.Error("expected a tracer even when disabled")
	}
}
