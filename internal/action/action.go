// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package action applies the structured side effects a task returns on
// completion: spec patches to children, workflow graph surgery
// (additions/detours), and defuse propagation. Every exported function
// here assumes the caller already holds the owning workflow's lock.
package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/launchpad/engine/internal/model"
)

// resolvePath walks a dot-separated path into spec, returning the parent
// map and the final key, creating intermediate maps as needed.
func resolvePath(spec map[string]any, path string) (map[string]any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	current := spec
	for _, part := range parts[:len(parts)-1] {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, "", fmt.Errorf("invalid path %q: empty segment", path)
		}
		next, ok := current[part]
		if !ok {
			nm := make(map[string]any)
			current[part] = nm
			current = nm
			continue
		}
		nm, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("invalid path %q: %q is not an object", path, part)
		}
		current = nm
	}
	return current, strings.TrimSpace(parts[len(parts)-1]), nil
}

// ApplyUpdateSpec merges updateSpec into spec at the top level, rightmost
// (updateSpec) wins.
func ApplyUpdateSpec(spec map[string]any, updateSpec map[string]any) map[string]any {
	if spec == nil {
		spec = make(map[string]any)
	}
	for k, v := range updateSpec {
		spec[k] = v
	}
	return spec
}

// ApplyModSpec applies a list of structured patches to spec in order.
func ApplyModSpec(spec map[string]any, mods []model.SpecMod) (map[string]any, error) {
	if spec == nil {
		spec = make(map[string]any)
	}
	for _, mod := range mods {
		parent, key, err := resolvePath(spec, mod.Path)
		if err != nil {
			return nil, fmt.Errorf("mod_spec %s %s: %w", mod.Op, mod.Path, err)
		}
		switch mod.Op {
		case model.ModSet:
			parent[key] = mod.Value
		case model.ModUnset:
			delete(parent, key)
		case model.ModInc:
			parent[key] = incValue(parent[key], mod.Value)
		case model.ModPush:
			parent[key] = pushValue(parent[key], mod.Value)
		case model.ModPushAll:
			values, ok := mod.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("mod_spec %s %s: value must be a list", mod.Op, mod.Path)
			}
			parent[key] = pushAllValues(parent[key], values)
		case model.ModPull:
			parent[key] = pullValue(parent[key], mod.Value)
		case model.ModPullAll:
			values, ok := mod.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("mod_spec %s %s: value must be a list", mod.Op, mod.Path)
			}
			parent[key] = pullAllValues(parent[key], values)
		default:
			return nil, fmt.Errorf("mod_spec: unknown op %q", mod.Op)
		}
	}
	return spec, nil
}

func incValue(current, delta any) any {
	c := toFloat(current)
	d := toFloat(delta)
	return c + d
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func pushValue(current, v any) []any {
	list, _ := current.([]any)
	return append(list, v)
}

func pushAllValues(current any, values []any) []any {
	list, _ := current.([]any)
	return append(list, values...)
}

func pullValue(current, v any) []any {
	list, _ := current.([]any)
	out := make([]any, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func pullAllValues(current any, values []any) []any {
	list, _ := current.([]any)
	out := make([]any, 0, len(list))
	for _, item := range list {
		drop := false
		for _, v := range values {
			if item == v {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, item)
		}
	}
	return out
}
