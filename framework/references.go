package framework

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RefObjectKey marks a typed reference inside JSON arguments:
// {"$ref": "step_2.output"}.
const RefObjectKey = "$ref"

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	referencePattern   = regexp.MustCompile(`^step_([0-9]+)(?:\.([A-Za-z_][A-Za-z0-9_]*))?$`)
	referencePrefix    = regexp.MustCompile(`(?i)^steps?(?:[_.]|[0-9]|$)`)
)

// Reference points at the output of an earlier step.
type Reference struct {
	Step  int    `json:"step"`
	Field string `json:"field,omitempty"`
}

// StepKey is the ReferenceStore key for step n (1-based).
func StepKey(step int) string {
	return "step_" + strconv.Itoa(step)
}

// Ref builds a reference to the primary output of step n.
func Ref(step int) Reference {
	return Reference{Step: step, Field: OutputKey}
}

// Key returns the store key the reference reads from.
func (r Reference) Key() string { return StepKey(r.Step) }

// String renders the placeholder form, e.g. {{step_2.output}}.
func (r Reference) String() string {
	return "{{" + r.Key() + "." + r.field() + "}}"
}

func (r Reference) field() string {
	if r.Field == "" {
		return OutputKey
	}
	return r.Field
}

// ParseReference accepts "step_N", "step_N.field" and the same wrapped in
// double braces.
func ParseReference(raw string) (Reference, error) {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{{") && strings.HasSuffix(token, "}}") {
		token = strings.TrimSpace(token[2 : len(token)-2])
	}
	m := referencePattern.FindStringSubmatch(token)
	if m == nil {
		return Reference{}, &UnresolvedReferenceError{Reference: raw, Reason: "malformed reference"}
	}
	step, err := strconv.Atoi(m[1])
	if err != nil || step < 1 {
		return Reference{}, &UnresolvedReferenceError{Reference: raw, Reason: "step index must be >= 1"}
	}
	field := m[2]
	if field == "" {
		field = OutputKey
	}
	return Reference{Step: step, Field: field}, nil
}

// ReferenceStore maps step keys to the results that produced them. A key is
// written at most once per run; reads before the write are errors. Each run
// owns its own store.
type ReferenceStore struct {
	mu     sync.RWMutex
	values map[string]*ToolResult
}

// NewReferenceStore builds an empty store.
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{values: make(map[string]*ToolResult)}
}

// Bind records result under key.
func (s *ReferenceStore) Bind(key string, result *ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, key)
	}
	s.values[key] = result
	return nil
}

// Resolve returns the result bound to key.
func (s *ReferenceStore) Resolve(key string) (*ToolResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.values[key]
	if !ok {
		return nil, &UnresolvedReferenceError{Reference: key, Reason: "not bound yet"}
	}
	return result, nil
}

// Keys lists bound keys in step order.
func (s *ReferenceStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(keys[i], "step_"))
		b, _ := strconv.Atoi(strings.TrimPrefix(keys[j], "step_"))
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// ResolveReference returns the payload field the reference selects.
func (s *ReferenceStore) ResolveReference(ref Reference) (interface{}, error) {
	result, err := s.Resolve(ref.Key())
	if err != nil {
		return nil, &UnresolvedReferenceError{Reference: ref.String(), Reason: "step has not completed"}
	}
	if result == nil || result.Data == nil {
		return nil, &UnresolvedReferenceError{Reference: ref.String(), Reason: "step produced no payload"}
	}
	value, ok := result.Data[ref.field()]
	if !ok {
		return nil, &UnresolvedReferenceError{Reference: ref.String(), Reason: fmt.Sprintf("no field %q", ref.field())}
	}
	return value, nil
}

// ResolvePlaceholdersIn substitutes every {{step_N.field}} placeholder in
// text. Placeholders that look like step references but do not parse are
// reported, so typos surface before the dependent tool runs. Other {{...}}
// text is left untouched. Substituted values are not rescanned.
func (s *ReferenceStore) ResolvePlaceholdersIn(text string) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		token := text[m[2]:m[3]]
		if !looksLikeReference(token) {
			continue
		}
		ref, err := ParseReference(token)
		if err != nil {
			return "", err
		}
		value, err := s.ResolveReference(ref)
		if err != nil {
			return "", err
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(Stringify(value))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// ResolveArguments returns a copy of args with every reference substituted.
// Typed references and {"$ref": ...} objects yield the raw payload value;
// strings go through ResolvePlaceholdersIn.
func (s *ReferenceStore) ResolveArguments(args map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := s.resolveValue(args)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func (s *ReferenceStore) resolveValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case Reference:
		return s.ResolveReference(v)
	case *Reference:
		return s.ResolveReference(*v)
	case string:
		return s.ResolvePlaceholdersIn(v)
	case map[string]interface{}:
		if ref, ok, err := refObject(v); ok || err != nil {
			if err != nil {
				return nil, err
			}
			return s.ResolveReference(ref)
		}
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := s.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := s.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			resolved, err := s.ResolvePlaceholdersIn(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return value, nil
}

// ScanReferences lists every reference in args without resolving anything.
// Malformed step placeholders are reported as errors.
func ScanReferences(args map[string]interface{}) ([]Reference, error) {
	var refs []Reference
	var walk func(value interface{}) error
	walk = func(value interface{}) error {
		switch v := value.(type) {
		case Reference:
			refs = append(refs, v)
		case *Reference:
			refs = append(refs, *v)
		case string:
			for _, m := range placeholderPattern.FindAllStringSubmatch(v, -1) {
				if !looksLikeReference(m[1]) {
					continue
				}
				ref, err := ParseReference(m[1])
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
		case []string:
			for _, item := range v {
				if err := walk(item); err != nil {
					return err
				}
			}
		case []interface{}:
			for _, item := range v {
				if err := walk(item); err != nil {
					return err
				}
			}
		case map[string]interface{}:
			if ref, ok, err := refObject(v); ok || err != nil {
				if err != nil {
					return err
				}
				refs = append(refs, ref)
				return nil
			}
			for _, item := range v {
				if err := walk(item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(args); err != nil {
		return nil, err
	}
	return refs, nil
}

func refObject(m map[string]interface{}) (Reference, bool, error) {
	if len(m) != 1 {
		return Reference{}, false, nil
	}
	raw, ok := m[RefObjectKey]
	if !ok {
		return Reference{}, false, nil
	}
	text, ok := raw.(string)
	if !ok {
		return Reference{}, true, &UnresolvedReferenceError{Reference: fmt.Sprint(raw), Reason: "$ref must be a string"}
	}
	ref, err := ParseReference(text)
	return ref, true, err
}

// looksLikeReference also catches near misses such as step2, steps_1 and
// Step_1 so ParseReference can reject them instead of passing them through.
func looksLikeReference(token string) bool {
	return referencePrefix.MatchString(strings.TrimSpace(token))
}
