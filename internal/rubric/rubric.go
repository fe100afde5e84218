package rubric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Dimension names understood by the analyzers.
const (
	DimensionCode    = "code"
	DimensionContent = "content"
)

// WeightTolerance bounds the accepted drift when weights are summed.
const WeightTolerance = 1e-6

// ErrInvalidRubric is matched by every ConfigError.
var ErrInvalidRubric = errors.New("invalid rubric")

// ConfigError describes why a rubric document was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rubric: %s", e.Reason)
	}
	return fmt.Sprintf("rubric: %s: %s", e.Field, e.Reason)
}

// Is lets callers match ConfigError with errors.Is(err, ErrInvalidRubric).
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidRubric
}

// Criterion is a weighted leaf of a dimension.
type Criterion struct {
	Name     string
	Weight   float64
	MaxScore float64
}

// Dimension groups weighted criteria, e.g. "code" or "content".
type Dimension struct {
	Name             string
	Weight           float64
	MaxScore         float64
	Criteria         []Criterion
	Keywords         []string
	RequiredSections []string
}

// Criterion looks up a criterion by name.
func (d Dimension) Criterion(name string) (Criterion, bool) {
	for _, criterion := range d.Criteria {
		if criterion.Name == name {
			return criterion, true
		}
	}
	return Criterion{}, false
}

// MaxFor returns the configured max score of a criterion, or 0 when absent.
func (d Dimension) MaxFor(name string) float64 {
	criterion, ok := d.Criterion(name)
	if !ok {
		return 0
	}
	return criterion.MaxScore
}

func (d Dimension) clone() Dimension {
	out := d
	out.Criteria = append([]Criterion(nil), d.Criteria...)
	out.Keywords = append([]string(nil), d.Keywords...)
	out.RequiredSections = append([]string(nil), d.RequiredSections...)
	return out
}

// Rubric is an immutable, validated weight tree. Accessors return copies.
type Rubric struct {
	name       string
	version    string
	dimensions map[string]Dimension
}

// Name returns the rubric's display name.
func (r *Rubric) Name() string { return r.name }

// Version returns the rubric's version label.
func (r *Rubric) Version() string { return r.version }

// Names lists the dimension names in lexical order.
func (r *Rubric) Names() []string {
	names := make([]string, 0, len(r.dimensions))
	for name := range r.dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dimension returns a copy of the named dimension.
func (r *Rubric) Dimension(name string) (Dimension, bool) {
	dim, ok := r.dimensions[name]
	if !ok {
		return Dimension{}, false
	}
	return dim.clone(), true
}

// Weight returns the top-level weight of a dimension, or 0 when absent.
func (r *Rubric) Weight(name string) float64 {
	return r.dimensions[name].Weight
}

type document struct {
	Name       string                       `json:"name"`
	Version    string                       `json:"version"`
	Dimensions map[string]dimensionDocument `json:"dimensions"`
}

type dimensionDocument struct {
	Weight           *float64                     `json:"weight"`
	MaxScore         *float64                     `json:"max_score"`
	Criteria         map[string]criterionDocument `json:"criteria"`
	Keywords         []string                     `json:"keywords,omitempty"`
	RequiredSections []string                     `json:"required_sections,omitempty"`
}

type criterionDocument struct {
	Weight   *float64 `json:"weight"`
	MaxScore *float64 `json:"max_score"`
}

var compiledSchema = jsonschema.MustCompileString("rubric.schema.json", schemaJSON)

// Parse validates a JSON rubric document and builds a Rubric.
func Parse(data []byte) (*Rubric, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("malformed json: %v", err)}
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, &ConfigError{Reason: schemaReason(err)}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("malformed json: %v", err)}
	}
	return build(doc)
}

// LoadFile reads and parses a rubric document from disk.
func LoadFile(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data)
}

// Default returns the standard code/content rubric.
func Default() *Rubric {
	r, err := build(defaultDocument())
	if err != nil {
		panic(fmt.Sprintf("default rubric invalid: %v", err))
	}
	return r
}

// Single returns a rubric containing only one dimension of r, re-weighted to 1.0.
func (r *Rubric) Single(name string) (*Rubric, error) {
	dim, ok := r.Dimension(name)
	if !ok {
		return nil, &ConfigError{Field: "dimensions." + name, Reason: "dimension is required"}
	}
	dim.Weight = 1
	return &Rubric{name: r.name, version: r.version, dimensions: map[string]Dimension{name: dim}}, nil
}

func build(doc document) (*Rubric, error) {
	if len(doc.Dimensions) == 0 {
		return nil, &ConfigError{Field: "dimensions", Reason: "at least one dimension is required"}
	}

	dims := make(map[string]Dimension, len(doc.Dimensions))
	total := 0.0
	for name, dimDoc := range doc.Dimensions {
		field := "dimensions." + name
		if dimDoc.Weight == nil {
			return nil, &ConfigError{Field: field + ".weight", Reason: "missing"}
		}
		if dimDoc.MaxScore == nil {
			return nil, &ConfigError{Field: field + ".max_score", Reason: "missing"}
		}
		if *dimDoc.Weight < 0 || *dimDoc.Weight > 1 {
			return nil, &ConfigError{Field: field + ".weight", Reason: "must be between 0 and 1"}
		}
		if *dimDoc.MaxScore <= 0 {
			return nil, &ConfigError{Field: field + ".max_score", Reason: "must be positive"}
		}
		if len(dimDoc.Criteria) == 0 {
			return nil, &ConfigError{Field: field + ".criteria", Reason: "at least one criterion is required"}
		}

		criteria := make([]Criterion, 0, len(dimDoc.Criteria))
		sum := 0.0
		for criterionName, c := range dimDoc.Criteria {
			cField := field + ".criteria." + criterionName
			if c.Weight == nil {
				return nil, &ConfigError{Field: cField + ".weight", Reason: "missing"}
			}
			if *c.Weight < 0 || *c.Weight > 1 {
				return nil, &ConfigError{Field: cField + ".weight", Reason: "must be between 0 and 1"}
			}
			maxScore := 100.0
			if c.MaxScore != nil {
				maxScore = *c.MaxScore
			}
			if maxScore <= 0 {
				return nil, &ConfigError{Field: cField + ".max_score", Reason: "must be positive"}
			}
			sum += *c.Weight
			criteria = append(criteria, Criterion{Name: criterionName, Weight: *c.Weight, MaxScore: maxScore})
		}
		if math.Abs(sum-1) > WeightTolerance {
			return nil, &ConfigError{Field: field + ".criteria", Reason: fmt.Sprintf("weights must sum to 1.0, got %.6f", sum)}
		}
		sort.Slice(criteria, func(i, j int) bool { return criteria[i].Name < criteria[j].Name })

		total += *dimDoc.Weight
		dims[name] = Dimension{
			Name:             name,
			Weight:           *dimDoc.Weight,
			MaxScore:         *dimDoc.MaxScore,
			Criteria:         criteria,
			Keywords:         cleanList(dimDoc.Keywords),
			RequiredSections: cleanList(dimDoc.RequiredSections),
		}
	}

	if math.Abs(total-1) > WeightTolerance {
		return nil, &ConfigError{Field: "dimensions", Reason: fmt.Sprintf("dimension weights must sum to 1.0, got %.6f", total)}
	}

	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "Standard Rubric"
	}
	version := strings.TrimSpace(doc.Version)
	if version == "" {
		version = "1.0"
	}
	return &Rubric{name: name, version: version, dimensions: dims}, nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		key := strings.ToLower(trimmed)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func schemaReason(err error) string {
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		leaf := validationErr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		return fmt.Sprintf("schema violation at %s: %s", location, leaf.Message)
	}
	return err.Error()
}

func ptr(v float64) *float64 { return &v }

func defaultDocument() document {
	return document{
		Name:    "Standard Rubric",
		Version: "1.0",
		Dimensions: map[string]dimensionDocument{
			DimensionCode: {
				Weight:   ptr(0.6),
				MaxScore: ptr(100),
				Criteria: map[string]criterionDocument{
					"approach":    {Weight: ptr(0.4), MaxScore: ptr(100)},
					"readability": {Weight: ptr(0.2), MaxScore: ptr(100)},
					"structure":   {Weight: ptr(0.2), MaxScore: ptr(100)},
					"effort":      {Weight: ptr(0.2), MaxScore: ptr(100)},
				},
			},
			DimensionContent: {
				Weight:   ptr(0.4),
				MaxScore: ptr(100),
				Criteria: map[string]criterionDocument{
					"coverage":     {Weight: ptr(0.35), MaxScore: ptr(100)},
					"alignment":    {Weight: ptr(0.25), MaxScore: ptr(100)},
					"flow":         {Weight: ptr(0.2), MaxScore: ptr(100)},
					"completeness": {Weight: ptr(0.2), MaxScore: ptr(100)},
				},
			},
		},
	}
}
