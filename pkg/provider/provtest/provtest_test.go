package provtest_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/provider/protocol"
	"github.com/terrane-dev/terrane/pkg/provider/provtest"
	"github.com/terrane-dev/terrane/pkg/providers/memory"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

func options() provtest.Options {
	return provtest.Options{
		Variables: map[string]string{"namespace": "conformance"},
		Inputs: property.Map{
			"name": property.String("web"),
			"size": property.String("small"),
			"zone": property.String("a"),
		},
		Update: property.Map{
			"name": property.String("web"),
			"size": property.String("large"),
			"zone": property.String("a"),
		},
		Replace: property.Map{
			"name": property.String("web"),
			"size": property.String("small"),
			"zone": property.String("b"),
		},
		SingletonInputs: property.Map{
			"name":      property.String("leader"),
			"zone":      property.String("a"),
			"singleton": property.Bool(true),
		},
		SingletonReplace: property.Map{
			"name":      property.String("leader"),
			"zone":      property.String("b"),
			"singleton": property.Bool(true),
		},
		LimitedVariables: map[string]string{"namespace": "conformance", "capacity": "1"},
		AtomicityInputs: property.Map{
			"name": property.String("probe"),
		},
	}
}

func TestMemoryProviderConformance(t *testing.T) {
	provtest.Run(t, func(t *testing.T) provider.Provider {
		return memory.New()
	}, options())
}

func TestMemoryProviderConformanceOverWire(t *testing.T) {
	provtest.Run(t, func(t *testing.T) provider.Provider {
		clientConn, serverConn := net.Pipe()

		srv := protocol.NewServer(memory.New(), telemetry.NopLogger())
		serverDone := make(chan struct{})
		go func() {
			defer close(serverDone)
			srv.Serve(context.Background(), serverConn)
		}()

		client, err := protocol.NewClient(protocol.ClientConfig{
			Conn:           clientConn,
			Closer:         clientConn,
			StartupTimeout: 5 * time.Second,
		})
		if err != nil {
			clientConn.Close()
			t.Fatalf("NewClient() error = %v", err)
		}

		t.Cleanup(func() {
			client.Close()
			serverConn.Close()
			select {
			case <-serverDone:
			case <-time.After(5 * time.Second):
				t.Error("server did not stop")
			}
		})
		return client
	}, options())
}
