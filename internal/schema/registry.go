package schema

import (
	"slices"
	"sync"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
)

// Registry holds the schema of every known model.
//
// Models are registered once at process start and read on every apply.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds m. Registering the same schema again is a no-op;
// registering a different schema under an existing name is a SchemaConflict.
// A malformed model is a SchemaViolation.
func (r *Registry) Register(m Model) error {
	m = m.normalized()
	if err := m.check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[m.Name]; ok {
		if existing.equal(m) {
			return nil
		}
		return conflict(m.Name, "model already registered with a different schema")
	}
	r.models[m.Name] = m
	return nil
}

// MustRegister is like Register but panics on error.
// Use for models compiled into the binary.
func (r *Registry) MustRegister(m Model) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the registered model.
func (r *Registry) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) model(name string) (Model, error) {
	m, ok := r.Lookup(name)
	if !ok {
		return Model{}, violation(name, "", "unknown model")
	}
	return m, nil
}

// ValidateCreate succeeds iff every required field is present, every key is
// a recognized field, and every value matches its field's type.
func (r *Registry) ValidateCreate(model string, data ir.IRObject) error {
	m, err := r.model(model)
	if err != nil {
		return err
	}
	for _, name := range data.SortedKeys() {
		if err := validateValue(m, name, data[name]); err != nil {
			return err
		}
	}
	for _, name := range m.Required {
		if _, ok := data[name]; !ok {
			return violation(model, name, "required field missing from Create")
		}
	}
	return nil
}

// ValidateUpdate succeeds iff field is a recognized updatable field.
func (r *Registry) ValidateUpdate(model, field string) error {
	m, err := r.model(model)
	if err != nil {
		return err
	}
	return validateUpdatable(m, field)
}

// ValidateValue checks value against the serialization rule of field:
// its declared type, or null when the field is nullable.
func (r *Registry) ValidateValue(model, field string, value ir.IRValue) error {
	m, err := r.model(model)
	if err != nil {
		return err
	}
	return validateValue(m, field, value)
}

// Validate runs the full schema check for o's variant.
func (r *Registry) Validate(o op.Operation) error {
	m, err := r.model(o.Model)
	if err != nil {
		return err
	}
	switch o.Kind {
	case op.KindCreate:
		return r.ValidateCreate(o.Model, o.Data)
	case op.KindUpdate:
		if err := validateUpdatable(m, o.Field); err != nil {
			return err
		}
		return validateValue(m, o.Field, o.Value)
	case op.KindDelete:
		return nil
	default:
		return violation(o.Model, "", "unknown operation type %q", o.Kind)
	}
}

// Create builds a validated, unstamped Create.
func (r *Registry) Create(id op.RecordID, model string, data ir.IRObject) (op.Operation, error) {
	if err := r.ValidateCreate(model, data); err != nil {
		return op.Operation{}, err
	}
	return op.NewCreate(id, model, data), nil
}

// Update builds a validated, unstamped Update.
func (r *Registry) Update(id op.RecordID, model, field string, value ir.IRValue) (op.Operation, error) {
	if value == nil {
		value = ir.Null
	}
	m, err := r.model(model)
	if err != nil {
		return op.Operation{}, err
	}
	if err := validateUpdatable(m, field); err != nil {
		return op.Operation{}, err
	}
	if err := validateValue(m, field, value); err != nil {
		return op.Operation{}, err
	}
	return op.NewUpdate(id, model, field, value), nil
}

// Delete builds a validated, unstamped Delete. Only the model is checked.
func (r *Registry) Delete(id op.RecordID, model string) (op.Operation, error) {
	if _, err := r.model(model); err != nil {
		return op.Operation{}, err
	}
	return op.NewDelete(id, model), nil
}

// CreateOf builds a validated Create from typed field variants.
// A field given twice keeps its last value.
func (r *Registry) CreateOf(id op.RecordID, model string, fields ...FieldValue) (op.Operation, error) {
	data := make(ir.IRObject, len(fields))
	for _, f := range fields {
		data[f.FieldName()] = f.FieldValue()
	}
	return r.Create(id, model, data)
}

// UpdateOf builds a validated Update from a typed field variant.
func (r *Registry) UpdateOf(id op.RecordID, model string, field FieldValue) (op.Operation, error) {
	return r.Update(id, model, field.FieldName(), field.FieldValue())
}

func validateUpdatable(m Model, field string) error {
	if _, ok := m.Field(field); !ok {
		return violation(m.Name, field, "unknown field")
	}
	if !m.IsUpdatable(field) {
		return violation(m.Name, field, "field is not updatable")
	}
	return nil
}

func validateValue(m Model, field string, value ir.IRValue) error {
	f, ok := m.Field(field)
	if !ok {
		return violation(m.Name, field, "unknown field")
	}
	if value == nil {
		return violation(m.Name, field, "missing value")
	}
	if _, isNull := value.(ir.IRNull); isNull {
		if !f.Nullable {
			return violation(m.Name, field, "null is not allowed")
		}
		return nil
	}
	if !f.Type.Accepts(value) {
		return violation(m.Name, field, "expected %s, got %s", f.Type, ir.Kind(value))
	}
	return nil
}
