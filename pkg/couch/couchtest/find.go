package couchtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const defaultFindLimit = 25

type findRequest struct {
	Selector       map[string]any    `json:"selector"`
	Limit          *int              `json:"limit"`
	Skip           int               `json:"skip"`
	Sort           []json.RawMessage `json:"sort"`
	Fields         []string          `json:"fields"`
	UseIndex       json.RawMessage   `json:"use_index"`
	R              int               `json:"r"`
	Bookmark       string            `json:"bookmark"`
	Update         *bool             `json:"update"`
	Stable         *bool             `json:"stable"`
	Stale          string            `json:"stale"`
	ExecutionStats bool              `json:"execution_stats"`
}

type sortKey struct {
	field string
	desc  bool
}

func parseSort(raw []json.RawMessage) ([]sortKey, error) {
	keys := make([]sortKey, 0, len(raw))
	for _, entry := range raw {
		var name string
		if err := json.Unmarshal(entry, &name); err == nil {
			keys = append(keys, sortKey{field: name})
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(entry, &m); err != nil || len(m) != 1 {
			return nil, fmt.Errorf("invalid sort entry %s", entry)
		}
		for field, dir := range m {
			switch dir {
			case "asc":
				keys = append(keys, sortKey{field: field})
			case "desc":
				keys = append(keys, sortKey{field: field, desc: true})
			default:
				return nil, fmt.Errorf("invalid sort direction %q", dir)
			}
		}
	}
	return keys, nil
}

// matches reports whether doc satisfies selector.
func matches(doc map[string]any, selector map[string]any) (bool, error) {
	for key, cond := range selector {
		switch key {
		case "$and", "$or", "$nor":
			list, ok := cond.([]any)
			if !ok {
				return false, fmt.Errorf("%s expects an array", key)
			}
			hits := 0
			for _, item := range list {
				sub, ok := item.(map[string]any)
				if !ok {
					return false, fmt.Errorf("%s expects selectors", key)
				}
				ok, err := matches(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					hits++
				}
			}
			switch {
			case key == "$and" && hits != len(list):
				return false, nil
			case key == "$or" && hits == 0:
				return false, nil
			case key == "$nor" && hits > 0:
				return false, nil
			}
		case "$not":
			sub, ok := cond.(map[string]any)
			if !ok {
				return false, fmt.Errorf("$not expects a selector")
			}
			ok, err := matches(doc, sub)
			if err != nil || ok {
				return false, err
			}
		default:
			value, exists := lookupField(doc, key)
			ok, err := matchCondition(value, exists, cond)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func matchCondition(value any, exists bool, cond any) (bool, error) {
	ops, isMap := cond.(map[string]any)
	if !isMap || !hasOperators(ops) {
		if isMap {
			// {"a": {"b": 1}} addresses the nested field a.b.
			nested, ok := value.(map[string]any)
			if !exists || !ok {
				return false, nil
			}
			return matches(nested, ops)
		}
		return exists && compare(value, cond) == 0, nil
	}

	for op := range ops {
		if !knownOperators[op] {
			return false, fmt.Errorf("unknown operator %s", op)
		}
	}
	for op, arg := range ops {
		if op == "$exists" {
			want, ok := arg.(bool)
			if !ok {
				return false, fmt.Errorf("$exists expects a boolean")
			}
			if exists != want {
				return false, nil
			}
			continue
		}
		if !exists {
			return false, nil
		}
		ok, err := matchOperator(op, value, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

var knownOperators = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$all": true, "$size": true, "$regex": true,
	"$type": true, "$elemMatch": true, "$exists": true,
}

func matchOperator(op string, value, arg any) (bool, error) {
	switch op {
	case "$eq":
		return compare(value, arg) == 0, nil
	case "$ne":
		return compare(value, arg) != 0, nil
	case "$gt":
		return compare(value, arg) > 0, nil
	case "$gte":
		return compare(value, arg) >= 0, nil
	case "$lt":
		return compare(value, arg) < 0, nil
	case "$lte":
		return compare(value, arg) <= 0, nil
	case "$in", "$nin":
		list, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("%s expects an array", op)
		}
		found := false
		for _, candidate := range list {
			if inValue(value, candidate) {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$all":
		list, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("$all expects an array")
		}
		for _, candidate := range list {
			if !inValue(value, candidate) {
				return false, nil
			}
		}
		return true, nil
	case "$size":
		n, ok := arg.(float64)
		list, isList := value.([]any)
		if !ok {
			return false, fmt.Errorf("$size expects a number")
		}
		return isList && float64(len(list)) == n, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, fmt.Errorf("$regex expects a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		s, ok := value.(string)
		return ok && re.MatchString(s), nil
	case "$type":
		name, ok := arg.(string)
		if !ok {
			return false, fmt.Errorf("$type expects a string")
		}
		return typeName(value) == name, nil
	case "$elemMatch":
		sub, ok := arg.(map[string]any)
		list, isList := value.([]any)
		if !ok {
			return false, fmt.Errorf("$elemMatch expects a selector")
		}
		if !isList {
			return false, nil
		}
		for _, item := range list {
			if ok, err := matchCondition(item, true, sub); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown operator %s", op)
	}
}

// inValue matches candidate against value, or against any element when value
// is an array.
func inValue(value, candidate any) bool {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if compare(item, candidate) == 0 {
				return true
			}
		}
		return false
	}
	return compare(value, candidate) == 0
}

func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func lookupField(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// compare orders JSON values: null, false, true, numbers, strings, arrays,
// objects.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil, bool:
		return 0
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return len(av) - len(bv)
	default:
		if reflect.DeepEqual(a, b) {
			return 0
		}
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return strings.Compare(string(ja), string(jb))
	}
}

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 2
		}
		return 1
	case float64:
		return 3
	case string:
		return 4
	case []any:
		return 5
	default:
		return 6
	}
}

func sortDocs(docs []map[string]any, keys []sortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := lookupField(docs[i], k.field)
			vj, _ := lookupField(docs[j], k.field)
			c := compare(vi, vj)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return doc
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := lookupField(doc, field)
		if !ok {
			continue
		}
		parts := strings.Split(field, ".")
		target := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				target[part] = next
			}
			target = next
		}
		target[parts[len(parts)-1]] = value
	}
	return out
}

func encodeBookmark(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o" + strconv.Itoa(offset)))
}

func decodeBookmark(bookmark string) (int, error) {
	if bookmark == "" || bookmark == "nil" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(bookmark)
	if err != nil || len(raw) < 2 || raw[0] != 'o' {
		return 0, fmt.Errorf("invalid bookmark value")
	}
	return strconv.Atoi(string(raw[1:]))
}
