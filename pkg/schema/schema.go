// Package schema builds tool input schemas from Go types.
//
// A schema is reflected once per type and cached. Nested structs are inlined,
// so the result is the flat `{type, properties, required}` shape that tool descriptors carry.
package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.Mutex
)

// Schema is the reflected schema of a type
type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters is the input schema of a tool taking the type as arguments
	Parameters *jsonschema.Schema
}

// New returns the schema of the given struct type
func New(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf("schema requires a struct type, got %s", t.Kind())
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	raw := JSONSchema(t)
	params, err := ToParameters(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build schema for %s", t.Name())
	}

	s := &Schema{
		RawSchema:  raw,
		Parameters: params,
	}
	cache[t] = s
	return s, nil
}

// For returns the schema of T
func For[T any]() (*Schema, error) {
	return New(reflect.TypeFor[T]())
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

// JSONSchema reflects the json schema of the type
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.AllowAdditionalProperties = true

	// structs with the same name from different packages must not share a definition
	r.Namer = func(t reflect.Type) string {
		name := t.Name()
		if t.Kind() == reflect.Struct {
			fullname := t.PkgPath() + "/" + t.Name()
			name = t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(fullname), 10)
		}
		return name
	}

	return r.ReflectFromType(t)
}

// ToParameters returns the top level object of the reflected schema
// with every $ref replaced by its definition.
func ToParameters(raw *jsonschema.Schema) (*jsonschema.Schema, error) {
	refID := strings.TrimPrefix(raw.Ref, "#/$defs/")

	defs := make(map[string]*jsonschema.Schema)
	root := raw
	for name, def := range raw.Definitions {
		if name == refID {
			root = def
		} else {
			defs[name] = def
		}
	}

	res := &jsonschema.Schema{
		Type:       root.Type,
		Properties: root.Properties,
		Required:   root.Required,
	}
	if res.Type == "" {
		res.Type = "object"
	}
	if res.Properties == nil {
		res.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}

	if err := resolveRefs(res.Properties, defs); err != nil {
		return nil, err
	}
	return res, nil
}

func resolveRef(ref string, defs map[string]*jsonschema.Schema) (*jsonschema.Schema, error) {
	name := strings.TrimPrefix(ref, "#/$defs/")
	def, ok := defs[name]
	if !ok {
		return nil, errors.Newf("definition not found: %s", ref)
	}
	return def, nil
}

func resolveRefs(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs map[string]*jsonschema.Schema) error {
	if props == nil {
		return nil
	}
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Ref != "" {
			def, err := resolveRef(pair.Value.Ref, defs)
			if err != nil {
				return err
			}
			pair.Value = def
		}
		child := pair.Value
		if err := resolveRefs(child.Properties, defs); err != nil {
			return err
		}
		if child.Items != nil && child.Items.Ref != "" {
			def, err := resolveRef(child.Items.Ref, defs)
			if err != nil {
				return err
			}
			child.Items = def
		}
		if child.Items != nil {
			if err := resolveRefs(child.Items.Properties, defs); err != nil {
				return err
			}
		}
	}
	return nil
}

// FromAny converts a schema given as generic JSON-compatible data,
// for example a map[string]any, to *jsonschema.Schema.
func FromAny(v any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}
	s := &jsonschema.Schema{}
	if err = json.Unmarshal(js, s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schema")
	}
	return s, nil
}

// MustFromAny is like FromAny but panics on error
func MustFromAny(v any) *jsonschema.Schema {
	s, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Object returns an object schema with the given properties, in order.
// Properties listed in required must be present in arguments.
func Object(required []string, props ...Property) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   required,
	}
	for _, p := range props {
		s.Properties.Set(p.Name, &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		})
	}
	return s
}

// Property describes one property of an Object schema
type Property struct {
	Name        string
	Type        string
	Description string
}
