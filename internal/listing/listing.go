// Package listing renders the structure of an HDF5 file as entries that
// can be printed, compared line by line, or emitted as YAML.
package listing

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/scigolib/h5trim"
)

// Entry describes one object.
type Entry struct {
	Path       string   `yaml:"path"`
	Kind       string   `yaml:"kind"`
	Shape      []uint64 `yaml:"shape,omitempty"`
	Type       string   `yaml:"type,omitempty"`
	Layout     string   `yaml:"layout,omitempty"`
	Chunks     []uint64 `yaml:"chunks,omitempty"`
	Filters    []string `yaml:"filters,omitempty"`
	Target     string   `yaml:"target,omitempty"`
	Attributes []Attr   `yaml:"attributes,omitempty"`
}

// Attr is an attribute with its value rendered as text.
type Attr struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// Tree lists the object at path and, when it is a group, everything below
// it in walk order.
func Tree(f *h5trim.File, path string) ([]Entry, error) {
	var out []Entry
	err := f.WalkFrom(path, func(_ string, obj h5trim.Object) error {
		e, err := Describe(obj)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Describe builds the entry of a single object.
func Describe(obj h5trim.Object) (Entry, error) {
	e := Entry{Path: obj.Path()}
	var holder interface {
		Attributes() ([]*h5trim.Attribute, error)
	}
	switch o := obj.(type) {
	case *h5trim.Group:
		e.Kind, holder = "group", o
	case *h5trim.Dataset:
		e.Kind, holder = "dataset", o
		if err := describeDataset(&e, o); err != nil {
			return e, fmt.Errorf("%s: %w", e.Path, err)
		}
	case *h5trim.Datatype:
		e.Kind, holder = "datatype", o
		t, err := o.Type()
		if err != nil {
			return e, err
		}
		e.Type = t.String()
	case *h5trim.SoftLink:
		e.Kind, e.Target = "soft link", o.Target
		return e, nil
	case *h5trim.ExternalLink:
		e.Kind, e.Target = "external link", o.File+":"+o.Target
		return e, nil
	default:
		return e, fmt.Errorf("%s: unknown object %T", e.Path, obj)
	}

	attrs, err := holder.Attributes()
	if err != nil {
		return e, fmt.Errorf("%s: %w", e.Path, err)
	}
	for _, a := range attrs {
		e.Attributes = append(e.Attributes, Attr{Name: a.Name, Type: a.Type.String(), Value: FormatValue(a)})
	}
	return e, nil
}

func describeDataset(e *Entry, ds *h5trim.Dataset) error {
	var err error
	if e.Shape, err = ds.Shape(); err != nil {
		return err
	}
	t, err := ds.Datatype()
	if err != nil {
		return err
	}
	e.Type = t.String()
	if e.Layout, err = ds.Layout(); err != nil {
		return err
	}
	if e.Chunks, err = ds.ChunkShape(); err != nil {
		return err
	}
	e.Filters, err = ds.Filters()
	return err
}

// FormatValue renders single strings and numbers directly and anything
// else as the element count and hex bytes.
func FormatValue(a *h5trim.Attribute) string {
	if a.Len() == 1 {
		switch a.Type.Class() {
		case "string", "vlen":
			if s, err := a.AsString(); err == nil {
				return fmt.Sprintf("%q", s)
			}
		case "integer":
			if v, err := a.AsInt64(); err == nil {
				if !strings.HasPrefix(a.Type.String(), "uint") || v >= 0 {
					return fmt.Sprint(v)
				}
				return fmt.Sprint(uint64(v)) //nolint:gosec // G115: unsigned reinterpretation
			}
		case "float":
			if v, err := a.AsFloat64(); err == nil {
				return fmt.Sprint(v)
			}
		}
	}
	return fmt.Sprintf("%d x %x", a.Len(), a.Data)
}

// String renders the entry as one line.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Path, e.Kind)
	if e.Target != "" {
		fmt.Fprintf(&b, " -> %s", e.Target)
	}
	if e.Kind == "dataset" {
		fmt.Fprintf(&b, " %s %s %s", shape(e.Shape), e.Type, e.Layout)
		if e.Chunks != nil {
			fmt.Fprintf(&b, " chunks=%s", shape(e.Chunks))
		}
		if len(e.Filters) > 0 {
			fmt.Fprintf(&b, " filters=%s", strings.Join(e.Filters, ","))
		}
	} else if e.Type != "" {
		fmt.Fprintf(&b, " %s", e.Type)
	}
	if len(e.Attributes) > 0 {
		fmt.Fprintf(&b, " attrs=%d", len(e.Attributes))
	}
	return b.String()
}

func shape(dims []uint64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Text renders entries one per line. With attrs set, every attribute is
// listed under its object.
func Text(entries []Entry, attrs bool) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
		if !attrs {
			continue
		}
		for _, a := range e.Attributes {
			fmt.Fprintf(&b, "  @%s %s = %s\n", a.Name, a.Type, a.Value)
		}
	}
	return b.String()
}

// YAML renders entries as a YAML sequence.
func YAML(entries []Entry) ([]byte, error) {
	return yaml.Marshal(entries)
}
