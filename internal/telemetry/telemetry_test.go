package telemetry

import (
	"context"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in        string
		target    string
		plaintext bool
		wantErr   bool
	}{
		{in: "localhost:4317", target: "localhost:4317", plaintext: true},
		{in: "http://collector:4317/v1/metrics", target: "collector:4317", plaintext: true},
		{in: "https://collector.ward.internal:4317", target: "collector.ward.internal:4317"},
		{in: "  otel:4317  ", target: "otel:4317", plaintext: true},
		{in: "", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tc := range tests {
		target, plaintext, err := parseEndpoint(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseEndpoint(%q) = %q, want error", tc.in, target)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEndpoint(%q): %v", tc.in, err)
			continue
		}
		if target != tc.target || plaintext != tc.plaintext {
			t.Errorf("parseEndpoint(%q) = (%q, %v), want (%q, %v)", tc.in, target, plaintext, tc.target, tc.plaintext)
		}
	}
}

func TestNewMeterProviderDoesNotDial(t *testing.T) {
	// gRPC connects lazily, so construction succeeds with no collector running.
	mp, err := NewMeterProvider(context.Background(), Options{Endpoint: "127.0.0.1:1", ServiceName: "wardauth-test"})
	if err != nil {
		t.Fatalf("NewMeterProvider: %v", err)
	}
	if mp.Meter("wardauth-test") == nil {
		t.Fatal("nil meter")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = mp.Shutdown(ctx)
}

func TestNewMeterProviderRejectsEmptyEndpoint(t *testing.T) {
	if _, err := NewMeterProvider(context.Background(), Options{}); err == nil {
		t.Fatal("want error for empty endpoint")
	}
}
