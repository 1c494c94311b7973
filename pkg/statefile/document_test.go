package statefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/terrane-dev/terrane/pkg/property"
)

const validDoc = `
stack: dev
provider:
  name: memory
  config:
    namespace: prod
resources:
  - name: web
    type: memory:index:object
    properties:
      zone: a
      replicas: 3
      singleton: true
  - name: db
    type: memory:index:object
    properties:
      zone: b
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Stack != "dev" {
		t.Errorf("Stack = %q, want dev", doc.Stack)
	}
	if doc.Provider.Name != "memory" || doc.Provider.Config["namespace"] != "prod" {
		t.Errorf("Provider = %+v", doc.Provider)
	}
	if len(doc.Resources) != 2 {
		t.Fatalf("Resources = %d, want 2", len(doc.Resources))
	}
	if doc.Resources[0].Name != "web" || doc.Resources[0].Type != "memory:index:object" {
		t.Errorf("Resources[0] = %+v", doc.Resources[0])
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing stack",
			doc: `
provider:
  name: memory
resources:
  - name: web
    type: memory:index:object
`,
		},
		{
			name: "missing provider name",
			doc: `
stack: dev
provider:
  config:
    namespace: prod
resources:
  - name: web
    type: memory:index:object
`,
		},
		{
			name: "resource without type",
			doc: `
stack: dev
provider:
  name: memory
resources:
  - name: web
`,
		},
		{
			name: "duplicate resource names",
			doc: `
stack: dev
provider:
  name: memory
resources:
  - name: web
    type: memory:index:object
  - name: web
    type: memory:index:object
`,
		},
		{
			name: "not yaml",
			doc:  `{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() accepted an invalid document")
			}
		})
	}
}

func TestGoals(t *testing.T) {
	doc, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	goals, err := doc.Goals()
	if err != nil {
		t.Fatalf("Goals() error = %v", err)
	}
	if len(goals) != 2 {
		t.Fatalf("Goals() returned %d goals, want 2", len(goals))
	}

	want := URN("dev", "memory:index:object", "web")
	if goals[0].URN != want {
		t.Errorf("URN = %s, want %s", goals[0].URN, want)
	}
	if !goals[0].Inputs["zone"].Equal(property.String("a")) {
		t.Errorf("zone = %v, want a", goals[0].Inputs["zone"])
	}
	if !goals[0].Inputs["replicas"].Equal(property.Number(3)) {
		t.Errorf("replicas = %v, want 3", goals[0].Inputs["replicas"])
	}
	if !goals[0].Inputs["singleton"].Equal(property.Bool(true)) {
		t.Errorf("singleton = %v, want true", goals[0].Inputs["singleton"])
	}
}

func TestURN(t *testing.T) {
	got := URN("prod", "memory:index:object", "web")
	want := "urn:terrane:prod::memory:index:object::web"
	if string(got) != want {
		t.Errorf("URN() = %s, want %s", got, want)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Stack != "dev" {
		t.Errorf("Stack = %q, want dev", doc.Stack)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

func TestWatcherSeesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.delay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seen := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx, func(doc *Document) error {
			select {
			case seen <- doc.Stack:
			default:
			}
			return nil
		})
	}()

	// Give the watch loop a moment to start, then rewrite the file.
	time.Sleep(50 * time.Millisecond)
	updated := []byte("stack: staging\nprovider:\n  name: memory\nresources: []\n")
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case stack := <-seen:
		if stack != "staging" {
			t.Errorf("reloaded stack = %q, want staging", stack)
		}
	case <-ctx.Done():
		t.Fatal("watcher never reported the change")
	}

	cancel()
	<-done
}
