package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ParseFile parses a configuration tree from a YAML file.
func ParseFile(path string) (*RootConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Parse parses and validates a configuration tree from YAML bytes.
// Environment variables are expanded first.
func Parse(data []byte) (*RootConfiguration, error) {
	root, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	return root, nil
}

// ParseDir parses every YAML file below dir, including subdirectories,
// and merges them into one tree. Files are read in lexical order.
func ParseDir(dir string) (*RootConfiguration, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	merged := &RootConfiguration{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", path, err)
		}
		part, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := merge(merged, part); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Load parses path as a directory or a single file.
func Load(path string) (*RootConfiguration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return ParseDir(path)
	}
	return ParseFile(path)
}

func decode(data []byte) (*RootConfiguration, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	root := &RootConfiguration{}
	if err := dec.Decode(root); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return root, nil
}

func merge(dst, src *RootConfiguration) error {
	dst.Entities = append(dst.Entities, src.Entities...)
	dst.Providers = append(dst.Providers, src.Providers...)
	dst.Routes = append(dst.Routes, src.Routes...)
	dst.Tasks = append(dst.Tasks, src.Tasks...)
	dst.Validations = append(dst.Validations, src.Validations...)

	if src.Authorization != nil {
		if dst.Authorization != nil {
			return fmt.Errorf("authorization is configured more than once")
		}
		dst.Authorization = src.Authorization
	}
	return nil
}

// Validate checks the structural invariants of a tree: required names and
// types, uniqueness per kind and known phase names. Cross references are
// checked when the registry is built.
func Validate(root *RootConfiguration) error {
	var errs []error

	errs = append(errs, duplicates("provider", lo.Map(root.Providers, func(p ProviderConfiguration, _ int) string { return p.Name }))...)
	for i, p := range root.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
		}
		if p.Type == "" {
			errs = append(errs, fmt.Errorf("provider %q: type is required", p.Name))
		}
	}

	errs = append(errs, duplicates("task", lo.Map(root.Tasks, func(t TaskConfiguration, _ int) string { return t.Name }))...)
	for i, t := range root.Tasks {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: name is required", i))
		}
		errs = append(errs, validateTask(fmt.Sprintf("task %q", t.Name), t, true)...)
	}

	errs = append(errs, duplicates("validation", lo.Map(root.Validations, func(v ValidationConfiguration, _ int) string { return v.Name }))...)
	for i, v := range root.Validations {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("validations[%d]: name is required", i))
		}
		errs = append(errs, validateValidation(fmt.Sprintf("validation %q", v.Name), v, true)...)
	}

	errs = append(errs, duplicates("route", lo.Map(root.Routes, func(r RouteConfiguration, _ int) string { return r.Name }))...)
	for i, r := range root.Routes {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: name is required", i))
		}
	}

	if root.Authorization != nil && root.Authorization.Type == "" {
		errs = append(errs, errors.New("authorization: type is required"))
	}

	errs = append(errs, duplicates("entity", lo.Map(root.Entities, func(e EntityConfiguration, _ int) string { return e.Name }))...)
	errs = append(errs, duplicates("entity route", lo.Map(root.Entities, func(e EntityConfiguration, _ int) string { return e.Route() }))...)
	for i, e := range root.Entities {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("entities[%d]: name is required", i))
			continue
		}
		errs = append(errs, validateEntity(e)...)
	}

	return errors.Join(errs...)
}

func validateEntity(e EntityConfiguration) []error {
	var errs []error
	where := fmt.Sprintf("entity %q", e.Name)

	if e.Provider == "" {
		errs = append(errs, fmt.Errorf("%s: provider is required", where))
	}
	for _, verb := range e.DisabledRoutes {
		if !IsVerb(verb) {
			errs = append(errs, fmt.Errorf("%s: unknown disabled route %q", where, verb))
		}
	}

	for _, d := range duplicates("attribute", lo.Map(e.Attributes, func(a AttributeConfiguration, _ int) string { return a.Name })) {
		errs = append(errs, fmt.Errorf("%s: %w", where, d))
	}
	for i, a := range e.Attributes {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s: attributes[%d]: name is required", where, i))
			continue
		}
		for _, v := range a.Validations {
			errs = append(errs, validateValidation(fmt.Sprintf("%s: attribute %q: validation", where, a.Name), v, false)...)
		}
	}

	for _, t := range e.Tasks {
		errs = append(errs, validateTask(fmt.Sprintf("%s: task %q", where, t.Name), t, false)...)
	}
	return errs
}

func validateTask(where string, t TaskConfiguration, root bool) []error {
	if !root && t.IsReference() {
		return nil
	}
	var errs []error
	if t.Type == "" {
		errs = append(errs, fmt.Errorf("%s: type is required", where))
	}
	for _, phase := range t.Phases {
		if !isTaskPhase(phase) {
			errs = append(errs, fmt.Errorf("%s: unknown phase %q", where, phase))
		}
	}
	return errs
}

func validateValidation(where string, v ValidationConfiguration, root bool) []error {
	if !root && v.IsReference() {
		return nil
	}
	var errs []error
	if v.Type == "" {
		errs = append(errs, fmt.Errorf("%s: type is required", where))
	}
	for _, phase := range v.Phases {
		if !IsValidationPhase(phase) {
			errs = append(errs, fmt.Errorf("%s: unknown phase %q", where, phase))
		}
	}
	return errs
}

// IsValidationPhase reports whether phase names a payload-carrying verb.
func IsValidationPhase(phase string) bool {
	return phase == VerbCreate || phase == VerbUpdate || phase == VerbPatch
}

func isTaskPhase(phase string) bool {
	for _, prefix := range []string{"before_", "after_"} {
		if verb, ok := strings.CutPrefix(phase, prefix); ok {
			return IsVerb(verb)
		}
	}
	return false
}

func duplicates(kind string, names []string) []error {
	var errs []error
	for _, name := range lo.FindDuplicates(lo.Compact(names)) {
		errs = append(errs, fmt.Errorf("duplicate %s %q", kind, name))
	}
	return errs
}
