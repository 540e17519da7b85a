package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrColumnNotFound is returned when a role matches no header.
	ErrColumnNotFound = errors.New("table: column not found")
	// ErrAmbiguousColumn is returned when a role matches several headers.
	ErrAmbiguousColumn = errors.New("table: ambiguous column")
)

// Selector says how a logical role maps to a header. Exactly one of the
// fields must be set.
//
//   - Header: exact header text (trimmed, case-insensitive).
//   - Contains: keywords tried in order; the first keyword that matches any
//     header decides, and it must match exactly one.
//   - Index: 0-based column position.
type Selector struct {
	Header   string   `json:"header,omitempty"`
	Contains []string `json:"contains,omitempty"`
	Index    *int     `json:"index,omitempty"`
}

// Validate checks that exactly one way of selecting is configured.
func (s Selector) Validate() error {
	n := 0
	if strings.TrimSpace(s.Header) != "" {
		n++
	}
	if len(s.Contains) > 0 {
		n++
		for _, k := range s.Contains {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("contains: empty keyword")
			}
		}
	}
	if s.Index != nil {
		n++
		if *s.Index < 0 {
			return fmt.Errorf("index must be >= 0")
		}
	}
	switch n {
	case 0:
		return fmt.Errorf("one of header, contains or index is required")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one of header, contains or index may be set")
	}
}

func (s Selector) String() string {
	switch {
	case s.Index != nil:
		return fmt.Sprintf("index %d", *s.Index)
	case s.Header != "":
		return fmt.Sprintf("header %q", s.Header)
	default:
		return fmt.Sprintf("contains %q", s.Contains)
	}
}

// Resolve returns the column index selected by s.
func (s Selector) Resolve(header []string) (int, error) {
	if err := s.Validate(); err != nil {
		return -1, err
	}

	if s.Index != nil {
		if *s.Index >= len(header) {
			return -1, fmt.Errorf("%w: index %d, table has %d columns", ErrColumnNotFound, *s.Index, len(header))
		}
		return *s.Index, nil
	}

	if s.Header != "" {
		want := strings.TrimSpace(s.Header)
		var hits []int
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				hits = append(hits, i)
			}
		}
		return pick(hits, header, s)
	}

	for _, kw := range s.Contains {
		kw = strings.ToLower(kw)
		var hits []int
		for i, h := range header {
			if strings.Contains(strings.ToLower(h), kw) {
				hits = append(hits, i)
			}
		}
		if len(hits) > 0 {
			return pick(hits, header, s)
		}
	}
	return -1, fmt.Errorf("%w: %s in header %q", ErrColumnNotFound, s, header)
}

func pick(hits []int, header []string, s Selector) (int, error) {
	switch len(hits) {
	case 0:
		return -1, fmt.Errorf("%w: %s in header %q", ErrColumnNotFound, s, header)
	case 1:
		return hits[0], nil
	default:
		names := make([]string, len(hits))
		for i, h := range hits {
			names[i] = header[h]
		}
		return -1, fmt.Errorf("%w: %s matches %q", ErrAmbiguousColumn, s, names)
	}
}

// ResolveRoles resolves every role against header. All failures are
// reported together.
func ResolveRoles(header []string, roles map[string]Selector) (map[string]int, error) {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]int, len(roles))
	var errs []error
	for _, name := range names {
		idx, err := roles[name].Resolve(header)
		if err != nil {
			errs = append(errs, fmt.Errorf("role %s: %w", name, err))
			continue
		}
		out[name] = idx
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
