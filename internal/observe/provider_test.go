package observe_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/hearken/internal/observe"
)

func TestInitProvider_ExportsToRegisterer(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: "test",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	counter, err := otel.Meter("probe").Int64Counter("hearken.probe")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(context.Background(), 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.Contains(f.GetName(), "probe") {
			found = true
		}
	}
	if !found {
		t.Error("probe counter not exported to the registry")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitProvider_RejectsBadSampleRatio(t *testing.T) {
	t.Parallel()

	if _, err := observe.InitProvider(context.Background(), observe.ProviderConfig{SampleRatio: 1.5}); err == nil {
		t.Fatal("want an error for a ratio above 1")
	}
}
