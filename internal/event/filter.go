package event

import "strings"

// Filter holds one flag per event kind. Closed windows are keyed by kind
// alone since no window exists after destruction.
type Filter struct {
	Created      bool `json:"created" yaml:"created"`
	Resized      bool `json:"resized" yaml:"resized"`
	Moved        bool `json:"moved" yaml:"moved"`
	Foregrounded bool `json:"foregrounded" yaml:"foregrounded"`
	Backgrounded bool `json:"backgrounded" yaml:"backgrounded"`
	Focused      bool `json:"focused" yaml:"focused"`
	Unfocused    bool `json:"unfocused" yaml:"unfocused"`
	Hidden       bool `json:"hidden" yaml:"hidden"`
	Showed       bool `json:"showed" yaml:"showed"`
	Closed       bool `json:"closed" yaml:"closed"`
}

// All returns a filter with every kind enabled
func All() Filter {
	return Filter{
		Created:      true,
		Resized:      true,
		Moved:        true,
		Foregrounded: true,
		Backgrounded: true,
		Focused:      true,
		Unfocused:    true,
		Hidden:       true,
		Showed:       true,
		Closed:       true,
	}
}

// Empty returns a filter with every kind disabled
func Empty() Filter {
	return Filter{}
}

func (f *Filter) flag(k Kind) *bool {
	switch k {
	case Created:
		return &f.Created
	case Resized:
		return &f.Resized
	case Moved:
		return &f.Moved
	case Foregrounded:
		return &f.Foregrounded
	case Backgrounded:
		return &f.Backgrounded
	case Focused:
		return &f.Focused
	case Unfocused:
		return &f.Unfocused
	case Hidden:
		return &f.Hidden
	case Showed:
		return &f.Showed
	case Closed:
		return &f.Closed
	}
	return nil
}

// Has reports whether kind k is enabled
func (f Filter) Has(k Kind) bool {
	p := f.flag(k)
	return p != nil && *p
}

// With returns f with kind k enabled in addition to the existing flags
func (f Filter) With(k Kind) Filter {
	if p := f.flag(k); p != nil {
		*p = true
	}
	return f
}

// Without returns f with kind k disabled
func (f Filter) Without(k Kind) Filter {
	if p := f.flag(k); p != nil {
		*p = false
	}
	return f
}

// ShouldDispatch reports whether e is worth forwarding to the consumer.
func (f Filter) ShouldDispatch(e Event) bool {
	return f.Has(e.Kind)
}

// Kinds returns the enabled kinds in declaration order
func (f Filter) Kinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for _, k := range AllKinds() {
		if f.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// IsEmpty reports whether no kind is enabled
func (f Filter) IsEmpty() bool {
	return f == Empty()
}

// ParseFilter builds a filter from kind names. "all" enables every kind.
func ParseFilter(names []string) (Filter, error) {
	f := Empty()
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			f = All()
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return Filter{}, err
		}
		f = f.With(k)
	}
	return f, nil
}

// Names returns the enabled kind names, the inverse of ParseFilter
func (f Filter) Names() []string {
	kinds := f.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

func (f Filter) String() string {
	if f == All() {
		return "all"
	}
	if f.IsEmpty() {
		return "none"
	}
	return strings.Join(f.Names(), ",")
}
