// Package provtest is a conformance suite for provider
// implementations. It exercises the behavioral contract every provider
// must uphold: Check purity, diff and update coherence, replacement
// ordering in both orders, create atomicity, delete idempotence, and
// the create-then-read round trip. Run it against a provider directly
// and again through the wire client; a conforming provider passes both
// ways.
package provtest

import (
	"context"
	"errors"
	"testing"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

// Factory returns a fresh, unconfigured provider for one subtest. The
// suite never shares state between subtests.
type Factory func(t *testing.T) provider.Provider

// Options describe how to drive the provider under test.
type Options struct {
	// Variables is a valid configuration.
	Variables map[string]string

	// Inputs is a valid input bag for one resource. It should carry an
	// identifying property so the resource can be found by an ID-less
	// Read.
	Inputs property.Map

	// Update is Inputs with a change the provider can apply in place.
	Update property.Map

	// Replace is Inputs with a change that forces replacement without
	// requiring delete-before-create. Leave nil to skip the
	// replacement subtests.
	Replace property.Map

	// SingletonInputs and SingletonReplace, when set, describe a
	// resource whose replacement must delete the old object first.
	SingletonInputs  property.Map
	SingletonReplace property.Map

	// LimitedVariables, when set, is a configuration under which
	// exactly one Create succeeds and the next must fail.
	// AtomicityInputs is the input bag for the failing Create; it must
	// carry a distinct identity so the suite can probe that nothing
	// was left behind.
	LimitedVariables map[string]string
	AtomicityInputs  property.Map
}

// Run executes the conformance suite against providers built by
// factory.
func Run(t *testing.T, factory Factory, opts Options) {
	t.Run("InfoBeforeConfigure", func(t *testing.T) {
		p := factory(t)
		info, err := p.Info(context.Background())
		if err != nil {
			t.Fatalf("Info() before Configure error = %v", err)
		}
		if info.Name == "" || info.Version == "" {
			t.Errorf("Info() = %+v, want non-empty name and version", info)
		}
	})

	t.Run("NotConfiguredGuard", func(t *testing.T) {
		p := factory(t)
		_, err := p.Check(context.Background(), provider.CheckRequest{URN: "urn:x", News: opts.Inputs})
		if !errors.Is(err, provider.ErrNotConfigured) {
			t.Errorf("Check() before Configure error = %v, want ErrNotConfigured", err)
		}
	})

	t.Run("CheckPurity", func(t *testing.T) {
		p := configure(t, factory, opts.Variables)
		req := provider.CheckRequest{URN: "urn:x", News: opts.Inputs}

		first := check(t, p, req)
		second := check(t, p, req)
		if !first.Equal(second) {
			t.Errorf("Check is not pure: %v then %v", first, second)
		}
		// Checked inputs must preserve the caller's representation of
		// every property the caller supplied.
		for k, v := range opts.Inputs {
			if !first[k].Equal(v) {
				t.Errorf("Check rewrote %q: got %v, want %v", k, first[k], v)
			}
		}
	})

	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		p := configure(t, factory, opts.Variables)
		ctx := context.Background()

		inputs := check(t, p, provider.CheckRequest{URN: "urn:x", News: opts.Inputs})
		created, err := p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: inputs})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if created.ID == "" {
			t.Fatal("Create() returned empty ID")
		}

		read, err := p.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:x"})
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if read.ID != created.ID {
			t.Errorf("Read().ID = %q, want %q", read.ID, created.ID)
		}
		for k, v := range inputs {
			if !read.Properties[k].Equal(v) {
				t.Errorf("live property %q = %v, want %v", k, read.Properties[k], v)
			}
		}

		// Read must not perturb state.
		again, err := p.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:x"})
		if err != nil {
			t.Fatalf("second Read() error = %v", err)
		}
		if !again.Properties.Equal(read.Properties) {
			t.Error("repeated Read returned different properties")
		}
	})

	t.Run("DiffNoneOnEqualBags", func(t *testing.T) {
		p := configure(t, factory, opts.Variables)
		inputs := check(t, p, provider.CheckRequest{URN: "urn:x", News: opts.Inputs})

		result, err := p.Diff(context.Background(), provider.DiffRequest{URN: "urn:x", Olds: inputs, News: inputs})
		if err != nil {
			t.Fatalf("Diff() error = %v", err)
		}
		if err := result.Validate(inputs); err != nil {
			t.Fatalf("invalid diff result: %v", err)
		}
		if result.Changes != provider.DiffNone {
			t.Errorf("Diff() of equal bags = %v, want none", result.Changes)
		}
	})

	t.Run("DiffUpdateCoherence", func(t *testing.T) {
		p := configure(t, factory, opts.Variables)
		ctx := context.Background()

		olds := check(t, p, provider.CheckRequest{URN: "urn:x", News: opts.Inputs})
		created, err := p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: olds})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		news := check(t, p, provider.CheckRequest{URN: "urn:x", Olds: olds, News: opts.Update})
		result, err := p.Diff(ctx, provider.DiffRequest{ID: created.ID, URN: "urn:x", Olds: olds, News: news})
		if err != nil {
			t.Fatalf("Diff() error = %v", err)
		}
		if err := result.Validate(news); err != nil {
			t.Fatalf("invalid diff result: %v", err)
		}
		if result.Changes != provider.DiffSome {
			t.Fatalf("Diff() of changed bags = %v, want some", result.Changes)
		}
		if result.Replacement() {
			t.Fatal("mutable change reported as replacement")
		}

		if _, err := p.Update(ctx, provider.UpdateRequest{ID: created.ID, URN: "urn:x", Olds: olds, News: news}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		read, err := p.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:x"})
		if err != nil {
			t.Fatalf("Read() after update error = %v", err)
		}
		for k, v := range news {
			if !read.Properties[k].Equal(v) {
				t.Errorf("updated property %q = %v, want %v", k, read.Properties[k], v)
			}
		}
	})

	if opts.Replace != nil {
		t.Run("ReplaceCreateThenDelete", func(t *testing.T) {
			p := configure(t, factory, opts.Variables)
			replaceResource(t, p, opts.Inputs, opts.Replace, false)
		})
	}

	if opts.SingletonInputs != nil {
		t.Run("ReplaceDeleteThenCreate", func(t *testing.T) {
			p := configure(t, factory, opts.Variables)
			replaceResource(t, p, opts.SingletonInputs, opts.SingletonReplace, true)
		})
	}

	t.Run("DeleteIdempotence", func(t *testing.T) {
		p := configure(t, factory, opts.Variables)
		ctx := context.Background()

		inputs := check(t, p, provider.CheckRequest{URN: "urn:x", News: opts.Inputs})
		created, err := p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: inputs})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if err := p.Delete(ctx, provider.DeleteRequest{ID: created.ID, URN: "urn:x"}); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := p.Delete(ctx, provider.DeleteRequest{ID: created.ID, URN: "urn:x"}); err != nil {
			t.Errorf("repeated Delete() error = %v, want nil", err)
		}

		read, err := p.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:x"})
		if err != nil {
			t.Fatalf("Read() after delete error = %v", err)
		}
		if read.ID != "" {
			t.Errorf("Read() after delete ID = %q, want empty", read.ID)
		}
	})

	if opts.LimitedVariables != nil {
		t.Run("CreateAtomicity", func(t *testing.T) {
			p := configure(t, factory, opts.LimitedVariables)
			ctx := context.Background()

			inputs := check(t, p, provider.CheckRequest{URN: "urn:x", News: opts.Inputs})
			if _, err := p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: inputs}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			second := check(t, p, provider.CheckRequest{URN: "urn:y", News: opts.AtomicityInputs})
			if _, err := p.Create(ctx, provider.CreateRequest{URN: "urn:y", Properties: second}); err == nil {
				t.Fatal("Create() beyond the configured limit succeeded")
			}

			// A failed Create must leave nothing behind.
			read, err := p.Read(ctx, provider.ReadRequest{URN: "urn:y", Properties: second})
			if err != nil {
				t.Fatalf("Read() probe error = %v", err)
			}
			if read.ID != "" {
				t.Errorf("failed Create left object %s behind", read.ID)
			}
		})
	}
}

// configure builds a fresh provider and establishes its settings.
func configure(t *testing.T, factory Factory, vars map[string]string) provider.Provider {
	t.Helper()
	p := factory(t)
	if err := p.Configure(context.Background(), provider.ConfigureRequest{Variables: vars}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return p
}

// check runs Check and fails the test on errors or failures.
func check(t *testing.T, p provider.Provider, req provider.CheckRequest) property.Map {
	t.Helper()
	resp, err := p.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(resp.Failures) > 0 {
		t.Fatalf("Check() failures = %v", resp.Failures)
	}
	return resp.Inputs
}

// replaceResource drives one replacement in the order the diff demands
// and verifies the old object is retired and the new one lives.
func replaceResource(t *testing.T, p provider.Provider, oldInputs, newInputs property.Map, wantDeleteFirst bool) {
	t.Helper()
	ctx := context.Background()

	olds := check(t, p, provider.CheckRequest{URN: "urn:x", News: oldInputs})
	created, err := p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: olds})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	news := check(t, p, provider.CheckRequest{URN: "urn:x", Olds: olds, News: newInputs})
	result, err := p.Diff(ctx, provider.DiffRequest{ID: created.ID, URN: "urn:x", Olds: olds, News: news})
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if err := result.Validate(news); err != nil {
		t.Fatalf("invalid diff result: %v", err)
	}
	if !result.Replacement() {
		t.Fatal("immutable change did not demand replacement")
	}
	if result.DeleteBeforeReplace != wantDeleteFirst {
		t.Fatalf("DeleteBeforeReplace = %v, want %v", result.DeleteBeforeReplace, wantDeleteFirst)
	}

	var replacement *provider.CreateResponse
	if result.DeleteBeforeReplace {
		if err := p.Delete(ctx, provider.DeleteRequest{ID: created.ID, URN: "urn:x"}); err != nil {
			t.Fatalf("Delete() of old object error = %v", err)
		}
		replacement, err = p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: news})
		if err != nil {
			t.Fatalf("Create() of replacement error = %v", err)
		}
	} else {
		replacement, err = p.Create(ctx, provider.CreateRequest{URN: "urn:x", Properties: news})
		if err != nil {
			t.Fatalf("Create() of replacement error = %v", err)
		}
		if err := p.Delete(ctx, provider.DeleteRequest{ID: created.ID, URN: "urn:x"}); err != nil {
			t.Fatalf("Delete() of old object error = %v", err)
		}
	}

	if replacement.ID == created.ID {
		t.Error("replacement reused the old ID")
	}

	old, err := p.Read(ctx, provider.ReadRequest{ID: created.ID, URN: "urn:x"})
	if err != nil {
		t.Fatalf("Read() of old object error = %v", err)
	}
	if old.ID != "" {
		t.Errorf("old object %s survived replacement", created.ID)
	}
	live, err := p.Read(ctx, provider.ReadRequest{ID: replacement.ID, URN: "urn:x"})
	if err != nil {
		t.Fatalf("Read() of replacement error = %v", err)
	}
	if live.ID != replacement.ID {
		t.Errorf("replacement Read ID = %q, want %q", live.ID, replacement.ID)
	}
}
