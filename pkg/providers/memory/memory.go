// Package memory implements an in-memory object-store provider. It is
// the reference implementation of the provider contract: the engine
// tests, the conformance suite and the bundled provider binary all run
// against it. Objects live in a process-local table, so every protocol
// property (check purity, create atomicity, delete idempotence,
// replacement of immutable properties) is observable without external
// infrastructure.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

const (
	// Name is the provider package name.
	Name = "memory"

	// Version is the provider version.
	Version = "1.2.0"

	// TokList is the Invoke token listing object names in the
	// namespace.
	TokList = "memory:index:list"

	// TokStat is the Invoke token returning namespace statistics.
	TokStat = "memory:index:stat"
)

// zone is immutable: changing it forces a replacement. A true
// "singleton" property means the old and new object cannot coexist, so
// replacement must delete before creating.
const (
	propZone      = "zone"
	propSingleton = "singleton"
	propTier      = "tier"
	propName      = "name"

	defaultTier = "standard"
)

// Config holds the provider settings established by Configure.
type Config struct {
	// Namespace scopes all objects managed by this provider instance.
	Namespace string `validate:"required"`

	// Region is an optional placement label.
	Region string `validate:"omitempty,printascii"`

	// Capacity bounds the number of objects; zero means unbounded.
	Capacity int `validate:"gte=0"`
}

// object is one live resource in the backing table.
type object struct {
	id         provider.ID
	urn        provider.URN
	properties property.Map
	generation int
	createdAt  time.Time
}

// Provider is the in-memory provider. It is safe for concurrent use
// across distinct resources; the object table is guarded by a RWMutex
// and configuration is written once by Configure.
type Provider struct {
	validate *validator.Validate

	mu      sync.RWMutex
	cfg     *Config
	objects map[provider.ID]*object
}

// New creates an unconfigured provider.
func New() *Provider {
	return &Provider{
		validate: validator.New(),
		objects:  make(map[provider.ID]*object),
	}
}

// Info implements provider.Provider. It is valid before Configure.
func (p *Provider) Info(_ context.Context) (provider.Info, error) {
	return provider.Info{
		Name:        Name,
		Version:     Version,
		Description: "in-memory object store",
		Functions:   []string{TokList, TokStat},
	}, nil
}

// Configure implements provider.Provider.
func (p *Provider) Configure(_ context.Context, req provider.ConfigureRequest) error {
	var missing []provider.MissingConfig
	if req.Variables["namespace"] == "" {
		missing = append(missing, provider.MissingConfig{
			Name:        "namespace",
			Description: "namespace that scopes all objects managed by this provider",
		})
	}
	if len(missing) > 0 {
		return &provider.ConfigureError{Missing: missing}
	}

	cfg := &Config{
		Namespace: req.Variables["namespace"],
		Region:    req.Variables["region"],
	}
	if raw := req.Variables["capacity"]; raw != "" {
		capacity, err := strconv.Atoi(raw)
		if err != nil {
			return provider.NewPermanentError(fmt.Sprintf("capacity must be an integer, got %q", raw), err)
		}
		cfg.Capacity = capacity
	}

	if err := p.validate.Struct(cfg); err != nil {
		return provider.NewPermanentError("invalid provider configuration", err)
	}

	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// config returns the established configuration, or ErrNotConfigured.
func (p *Provider) config() (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cfg == nil {
		return nil, provider.ErrNotConfigured
	}
	return p.cfg, nil
}

// Check implements provider.Provider. It is a pure function: it never
// touches the object table, and it preserves the caller's
// representation of every property it does not default.
func (p *Provider) Check(_ context.Context, req provider.CheckRequest) (*provider.CheckResponse, error) {
	if _, err := p.config(); err != nil {
		return nil, err
	}

	var failures []provider.CheckFailure
	for _, key := range req.News.Keys() {
		if strings.HasPrefix(key, "__") {
			failures = append(failures, provider.CheckFailure{
				Property: key,
				Reason:   "property names beginning with __ are reserved",
			})
		}
	}
	if v, ok := req.News[propZone]; ok && !v.IsString() {
		failures = append(failures, provider.CheckFailure{
			Property: propZone,
			Reason:   "zone must be a string",
		})
	}
	if v, ok := req.News[propSingleton]; ok && !v.IsBool() {
		failures = append(failures, provider.CheckFailure{
			Property: propSingleton,
			Reason:   "singleton must be a boolean",
		})
	}
	if v, ok := req.News[propName]; ok && !v.IsString() {
		failures = append(failures, provider.CheckFailure{
			Property: propName,
			Reason:   "name must be a string",
		})
	}

	if len(failures) > 0 {
		return &provider.CheckResponse{Failures: failures}, nil
	}

	inputs := req.News.Copy()
	if !inputs.HasKey(propTier) {
		inputs[propTier] = property.String(defaultTier)
	}
	return &provider.CheckResponse{Inputs: inputs}, nil
}

// Diff implements provider.Provider. Changing zone replaces the
// object; a singleton object must be deleted before its replacement is
// created, since two objects with the same name cannot coexist.
func (p *Provider) Diff(_ context.Context, req provider.DiffRequest) (*provider.DiffResult, error) {
	if _, err := p.config(); err != nil {
		return nil, err
	}

	diff := property.Diff(req.Olds, req.News)
	if diff == nil {
		return &provider.DiffResult{
			Changes: provider.DiffNone,
			Stables: []string{propZone},
		}, nil
	}

	var replaces []string
	if diff.Changed(propZone) && req.News.HasKey(propZone) {
		replaces = append(replaces, propZone)
	}

	deleteBeforeReplace := false
	if len(replaces) > 0 {
		if v, ok := req.News[propSingleton]; ok && v.IsBool() {
			deleteBeforeReplace = v.BoolValue()
		}
	}

	return &provider.DiffResult{
		Changes:             provider.DiffSome,
		Replaces:            replaces,
		Stables:             []string{propZone},
		DeleteBeforeReplace: deleteBeforeReplace,
	}, nil
}

// Create implements provider.Provider. All validation happens before
// the table is touched, so a failed Create leaves nothing behind.
func (p *Provider) Create(_ context.Context, req provider.CreateRequest) (*provider.CreateResponse, error) {
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.Capacity > 0 && len(p.objects) >= cfg.Capacity {
		return nil, provider.NewThrottledError(
			fmt.Sprintf("namespace %s is at capacity (%d objects)", cfg.Namespace, cfg.Capacity), nil)
	}

	obj := &object{
		id:         provider.ID(fmt.Sprintf("mem-%s", uuid.New().String())),
		urn:        req.URN,
		properties: req.Properties.Copy(),
		generation: 1,
		createdAt:  time.Now().UTC(),
	}
	p.objects[obj.id] = obj

	return &provider.CreateResponse{
		ID:         obj.id,
		Properties: p.computed(obj),
	}, nil
}

// Read implements provider.Provider. A missing object yields an empty
// ID, which the caller treats as deleted. When the request carries no
// ID, the object is resolved by its name property.
func (p *Provider) Read(_ context.Context, req provider.ReadRequest) (*provider.ReadResponse, error) {
	if _, err := p.config(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	obj, ok := p.objects[req.ID]
	if !ok && req.ID == "" {
		obj, ok = p.findByName(req.Properties)
	}
	if !ok {
		return &provider.ReadResponse{ID: ""}, nil
	}

	props := obj.properties.Copy()
	for k, v := range p.computed(obj) {
		props[k] = v
	}
	return &provider.ReadResponse{
		ID:         obj.id,
		Properties: props,
	}, nil
}

// findByName resolves an object by its name property. Caller holds the
// read lock.
func (p *Provider) findByName(props property.Map) (*object, bool) {
	name, ok := props[propName]
	if !ok || !name.IsString() {
		return nil, false
	}
	for _, obj := range p.objects {
		if v, ok := obj.properties[propName]; ok && v.Equal(name) {
			return obj, true
		}
	}
	return nil, false
}

// Update implements provider.Provider. Only the delta between old and
// new inputs is applied; the object is never recreated.
func (p *Provider) Update(_ context.Context, req provider.UpdateRequest) (*provider.UpdateResponse, error) {
	if _, err := p.config(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[req.ID]
	if !ok {
		return nil, provider.NewConflictError(
			fmt.Sprintf("object %s no longer exists", req.ID), nil)
	}

	diff := property.Diff(req.Olds, req.News)
	if diff != nil {
		for k, v := range diff.Adds {
			obj.properties[k] = v.Copy()
		}
		for k, vd := range diff.Updates {
			obj.properties[k] = vd.New.Copy()
		}
		for k := range diff.Deletes {
			delete(obj.properties, k)
		}
		obj.generation++
	}

	return &provider.UpdateResponse{
		Properties: p.computed(obj),
	}, nil
}

// Delete implements provider.Provider. Deleting an absent object
// succeeds so that retries after partial failure converge.
func (p *Provider) Delete(_ context.Context, req provider.DeleteRequest) error {
	if _, err := p.config(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, req.ID)
	return nil
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(_ context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}

	switch req.Tok {
	case TokList:
		prefix := ""
		if v, ok := req.Args["prefix"]; ok {
			if !v.IsString() {
				return &provider.InvokeResponse{
					Failures: []provider.CheckFailure{{Property: "prefix", Reason: "prefix must be a string"}},
				}, nil
			}
			prefix = v.StringValue()
		}

		p.mu.RLock()
		var names []property.Value
		for _, obj := range p.objects {
			v, ok := obj.properties[propName]
			if !ok || !v.IsString() {
				continue
			}
			if strings.HasPrefix(v.StringValue(), prefix) {
				names = append(names, v)
			}
		}
		p.mu.RUnlock()

		sort.Slice(names, func(i, j int) bool {
			return names[i].StringValue() < names[j].StringValue()
		})
		return &provider.InvokeResponse{
			Return: property.Map{"names": property.Array(names)},
		}, nil

	case TokStat:
		p.mu.RLock()
		count := len(p.objects)
		p.mu.RUnlock()
		return &provider.InvokeResponse{
			Return: property.Map{
				"namespace": property.String(cfg.Namespace),
				"count":     property.Number(float64(count)),
				"capacity":  property.Number(float64(cfg.Capacity)),
			},
		}, nil

	default:
		return nil, provider.NewPermanentError(fmt.Sprintf("unknown function %q", req.Tok), nil)
	}
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	return nil
}

// Len reports the number of live objects; used by tests and capacity
// accounting.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

// computed returns the provider-computed output properties for an
// object.
func (p *Provider) computed(obj *object) property.Map {
	return property.Map{
		"generation": property.Number(float64(obj.generation)),
		"createdAt":  property.String(obj.createdAt.Format(time.RFC3339Nano)),
	}
}
