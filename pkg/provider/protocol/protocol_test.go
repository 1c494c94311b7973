package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
	"github.com/terrane-dev/terrane/pkg/providers/memory"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// connect wires a provider to a client through an in-memory pipe and
// returns the client. The server runs until the client closes.
func connect(t *testing.T, prov provider.Provider) *Client {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	srv := NewServer(prov, telemetry.NopLogger())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(context.Background(), serverConn)
	}()

	client, err := NewClient(ClientConfig{
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
}

func TestHandshake(t *testing.T) {
	client := connect(t, memory.New())

	info := client.PluginInfo()
	if info.Name != memory.Name || info.Version != memory.Version {
		t.Errorf("PluginInfo() = %+v, want name %q version %q", info, memory.Name, memory.Version)
	}

	// Info over the wire works before Configure.
	live, err := client.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if live.Name != info.Name {
		t.Errorf("Info().Name = %q, want %q", live.Name, info.Name)
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		enc := NewEncoder(serverConn)
		enc.EncodeReady(&ReadyMessage{Protocol: ProtocolVersion + 1})
	}()

	_, err := NewClient(ClientConfig{Conn: clientConn, StartupTimeout: 5 * time.Second})
	if err == nil {
		t.Fatal("NewClient() accepted a mismatched protocol version")
	}
}

func TestLifecycleOverWire(t *testing.T) {
	client := connect(t, memory.New())
	ctx := context.Background()

	err := client.Configure(ctx, provider.ConfigureRequest{
		Variables: map[string]string{"namespace": "wire"},
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	news := property.Map{
		"name": property.String("web"),
		"zone": property.String("a"),
	}
	checked, err := client.Check(ctx, provider.CheckRequest{URN: "urn:a", News: news})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(checked.Failures) > 0 {
		t.Fatalf("Check() failures = %v", checked.Failures)
	}
	if got := checked.Inputs["tier"].StringValue(); got != "standard" {
		t.Errorf("defaulted tier = %q, want standard", got)
	}

	created, err := client.Create(ctx, provider.CreateRequest{URN: "urn:a", Properties: checked.Inputs})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() returned empty ID")
	}

	diff, err := client.Diff(ctx, provider.DiffRequest{
		ID:   created.ID,
		URN:  "urn:a",
		Olds: checked.Inputs,
		News: checked.Inputs,
	})
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if diff.Changes != provider.DiffNone {
		t.Errorf("Diff().Changes = %v, want none", diff.Changes)
	}

	read, err := client.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:a"})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !read.Properties["zone"].Equal(property.String("a")) {
		t.Errorf("read zone = %v, want a", read.Properties["zone"])
	}

	newInputs := checked.Inputs.Copy()
	newInputs["size"] = property.String("large")
	updated, err := client.Update(ctx, provider.UpdateRequest{
		ID:   created.ID,
		URN:  "urn:a",
		Olds: checked.Inputs,
		News: newInputs,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := updated.Properties["generation"].NumberValue(); got != 2 {
		t.Errorf("generation = %v, want 2", got)
	}

	invoked, err := client.Invoke(ctx, provider.InvokeRequest{Tok: memory.TokStat})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := invoked.Return["count"].NumberValue(); got != 1 {
		t.Errorf("count = %v, want 1", got)
	}

	if err := client.Delete(ctx, provider.DeleteRequest{ID: created.ID, URN: "urn:a"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	gone, err := client.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:a"})
	if err != nil {
		t.Fatalf("Read() after delete error = %v", err)
	}
	if gone.ID != "" {
		t.Errorf("Read() after delete ID = %q, want empty", gone.ID)
	}
}

func TestConfigureErrorCrossesWire(t *testing.T) {
	client := connect(t, memory.New())

	err := client.Configure(context.Background(), provider.ConfigureRequest{
		Variables: map[string]string{"region": "eu-west"},
	})
	var cfgErr *provider.ConfigureError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Configure() error = %v, want *ConfigureError", err)
	}
	if len(cfgErr.Missing) != 1 || cfgErr.Missing[0].Name != "namespace" {
		t.Errorf("Missing = %v, want namespace", cfgErr.Missing)
	}
	if cfgErr.Missing[0].Description == "" {
		t.Error("missing key description was lost on the wire")
	}
}

func TestNotConfiguredCrossesWire(t *testing.T) {
	client := connect(t, memory.New())

	_, err := client.Create(context.Background(), provider.CreateRequest{URN: "urn:a"})
	if !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("Create() error = %v, want ErrNotConfigured", err)
	}
}

func TestErrorClassCrossesWire(t *testing.T) {
	client := connect(t, memory.New())
	ctx := context.Background()

	err := client.Configure(ctx, provider.ConfigureRequest{
		Variables: map[string]string{"namespace": "wire", "capacity": "1"},
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if _, err := client.Create(ctx, provider.CreateRequest{URN: "urn:a"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = client.Create(ctx, provider.CreateRequest{URN: "urn:b"})
	if err == nil {
		t.Fatal("Create() beyond capacity succeeded")
	}
	if got := provider.ClassOf(err); got != provider.ClassThrottled {
		t.Errorf("ClassOf() = %v, want throttled", got)
	}
	if !provider.IsRetryable(err) {
		t.Error("throttled error lost retryability on the wire")
	}
}

func TestConcurrentCalls(t *testing.T) {
	client := connect(t, memory.New())
	ctx := context.Background()

	err := client.Configure(ctx, provider.ConfigureRequest{
		Variables: map[string]string{"namespace": "wire"},
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	const n = 16
	ids := make([]provider.ID, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Create(ctx, provider.CreateRequest{
				URN:        provider.URN(fmt.Sprintf("urn:obj-%d", i)),
				Properties: property.Map{"name": property.String(fmt.Sprintf("obj-%d", i))},
			})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = resp.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[provider.ID]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Create(%d) error = %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Errorf("duplicate ID %s", ids[i])
		}
		seen[ids[i]] = true
	}

	resp, err := client.Invoke(ctx, provider.InvokeRequest{Tok: memory.TokStat})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := resp.Return["count"].NumberValue(); got != n {
		t.Errorf("count = %v, want %d", got, n)
	}
}

// blockingProvider parks Read calls until released, so tests can hold a
// call in flight.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingProvider) Info(context.Context) (provider.Info, error) {
	return provider.Info{Name: "blocking", Version: "0.0.1"}, nil
}

func (b *blockingProvider) Configure(context.Context, provider.ConfigureRequest) error {
	return nil
}

func (b *blockingProvider) Check(context.Context, provider.CheckRequest) (*provider.CheckResponse, error) {
	return &provider.CheckResponse{}, nil
}

func (b *blockingProvider) Diff(context.Context, provider.DiffRequest) (*provider.DiffResult, error) {
	return &provider.DiffResult{Changes: provider.DiffNone}, nil
}

func (b *blockingProvider) Create(context.Context, provider.CreateRequest) (*provider.CreateResponse, error) {
	return &provider.CreateResponse{ID: "blk-1"}, nil
}

func (b *blockingProvider) Read(ctx context.Context, _ provider.ReadRequest) (*provider.ReadResponse, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return &provider.ReadResponse{ID: "blk-1"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingProvider) Update(context.Context, provider.UpdateRequest) (*provider.UpdateResponse, error) {
	return &provider.UpdateResponse{}, nil
}

func (b *blockingProvider) Delete(context.Context, provider.DeleteRequest) error {
	return nil
}

func (b *blockingProvider) Invoke(context.Context, provider.InvokeRequest) (*provider.InvokeResponse, error) {
	return &provider.InvokeResponse{}, nil
}

func (b *blockingProvider) Close() error { return nil }

func TestCallCancellation(t *testing.T) {
	prov := newBlockingProvider()
	client := connect(t, prov)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Read(ctx, provider.ReadRequest{ID: "blk-1"})
		done <- err
	}()

	<-prov.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Read() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled call did not return")
	}
	close(prov.release)

	// The client stays usable after an abandoned call.
	if _, err := client.Check(context.Background(), provider.CheckRequest{URN: "urn:a"}); err != nil {
		t.Errorf("Check() after cancellation error = %v", err)
	}
}

func TestConnectionLossFailsInFlightCalls(t *testing.T) {
	prov := newBlockingProvider()

	clientConn, serverConn := net.Pipe()
	srv := NewServer(prov, telemetry.NopLogger())
	go srv.Serve(context.Background(), serverConn)

	client, err := NewClient(ClientConfig{
		Conn:           clientConn,
		Closer:         clientConn,
		StartupTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.Read(context.Background(), provider.ReadRequest{ID: "blk-1"})
		done <- err
	}()

	<-prov.started
	serverConn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Read() succeeded across a dead connection")
		}
		if provider.ClassOf(err) != provider.ClassTransient {
			t.Errorf("ClassOf() = %v, want transient", provider.ClassOf(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight call did not fail after connection loss")
	}
	close(prov.release)

	// Later calls fail fast instead of hanging.
	if _, err := client.Check(context.Background(), provider.CheckRequest{URN: "urn:a"}); err == nil {
		t.Error("Check() on a dead client succeeded")
	}
	client.Close()
}
