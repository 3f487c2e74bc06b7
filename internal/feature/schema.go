package feature

import (
	"fmt"
	"sort"
)

// #region column
// Column is one categorical block of the encoded vector. Categories are
// listed in column order: category i maps to offset+i.
type Column struct {
	Name       string   `json:"name" yaml:"name"`
	Categories []string `json:"categories" yaml:"categories"`
}

// #endregion column

// #region schema
// Schema fixes the layout of the encoded vector: categorical blocks first,
// in order, then numeric passthrough columns. It travels with the model
// artifact so the layout survives restarts.
type Schema struct {
	Categorical []Column `json:"categorical" yaml:"categorical"`
	Numeric     []string `json:"numeric" yaml:"numeric"`
}

// DefaultSchema returns the layout produced by the training job for the
// delay dataset. Categories are sorted, as a fitted one-hot encoder emits them.
func DefaultSchema() Schema {
	var s Schema
	for _, name := range CategoricalFields() {
		cats := append([]string(nil), Domain(name)...)
		sort.Strings(cats)
		s.Categorical = append(s.Categorical, Column{Name: name, Categories: cats})
	}
	s.Numeric = NumericFields()
	return s
}

// Dimension is the length of vectors encoded under this schema.
func (s Schema) Dimension() int {
	n := len(s.Numeric)
	for _, c := range s.Categorical {
		n += len(c.Categories)
	}
	return n
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	out := Schema{Numeric: append([]string(nil), s.Numeric...)}
	for _, c := range s.Categorical {
		out.Categorical = append(out.Categorical, Column{
			Name:       c.Name,
			Categories: append([]string(nil), c.Categories...),
		})
	}
	return out
}

// Validate checks that every column names a known record field, appears
// once, and that no block repeats a category.
func (s Schema) Validate() error {
	if len(s.Categorical)+len(s.Numeric) == 0 {
		return fmt.Errorf("schema has no columns")
	}
	seen := make(map[string]bool)
	for _, c := range s.Categorical {
		if _, ok := (Record{}).Categorical(c.Name); !ok {
			return fmt.Errorf("schema: %q is not a categorical field", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Categories) == 0 {
			return fmt.Errorf("schema: column %q has no categories", c.Name)
		}
		cats := make(map[string]bool, len(c.Categories))
		for _, cat := range c.Categories {
			if cats[cat] {
				return fmt.Errorf("schema: column %q repeats category %q", c.Name, cat)
			}
			cats[cat] = true
		}
	}
	for _, n := range s.Numeric {
		if _, ok := (Record{}).Numeric(n); !ok {
			return fmt.Errorf("schema: %q is not a numeric field", n)
		}
		if seen[n] {
			return fmt.Errorf("schema: duplicate column %q", n)
		}
		seen[n] = true
	}
	return nil
}

// #endregion schema

// #region layout
// Block is a named range [Offset, Offset+Width) within the encoded vector.
type Block struct {
	Name    string
	Offset  int
	Width   int
	Numeric bool
}

// Layout returns the blocks of the encoded vector in order.
func (s Schema) Layout() []Block {
	blocks := make([]Block, 0, len(s.Categorical)+len(s.Numeric))
	off := 0
	for _, c := range s.Categorical {
		blocks = append(blocks, Block{Name: c.Name, Offset: off, Width: len(c.Categories)})
		off += len(c.Categories)
	}
	for _, n := range s.Numeric {
		blocks = append(blocks, Block{Name: n, Offset: off, Width: 1, Numeric: true})
		off++
	}
	return blocks
}

// #endregion layout
