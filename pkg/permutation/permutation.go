// Package permutation expands a benchmark configuration and its selected
// variables into the concrete set of scheduler jobs it submits (component
// C4): one permutation per jobscript variant x variable combination x
// iteration.
package permutation

import (
	"fmt"
	"strings"

	"github.com/xbat/xbatctld/pkg/types"
)

// Permutation is one fully rendered job to be submitted to the scheduler
// adapter.
type Permutation struct {
	Identificator     string
	RunNumber         int64
	VariantIndex      int
	PermutationNr     int
	Iteration         int
	Configuration     map[string]any
	Variables         map[string]string
	JobscriptFile     string
	UserJobscriptFile string
	CLI               bool
}

// Substitute replaces every "#KEY#" marker in dest with config[key],
// uppercasing the key to build the marker. A config value that is a string
// slice is joined with commas before substitution. Substitution repeats
// until the text is stable, for at most three passes, since a substituted
// value may itself carry markers (the script body carries
// #XBAT-START#/#XBAT-STOP#).
func Substitute(config map[string]any, dest string) string {
	for pass := 0; pass < 3; pass++ {
		before := dest
		for key, value := range config {
			marker := "#" + strings.ToUpper(key) + "#"
			if !strings.Contains(dest, marker) {
				continue
			}
			dest = strings.ReplaceAll(dest, marker, stringifyConfigValue(value))
		}
		if dest == before {
			break
		}
	}
	return dest
}

func stringifyConfigValue(value any) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			parts = append(parts, fmt.Sprintf("%v", e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// GenerateVariablePermutations splits variables into single-valued (held
// fixed) and multi-valued (expanded into a Cartesian product), returning one
// map per resulting combination. A variable with an empty key or no
// selected values is skipped.
func GenerateVariablePermutations(variables []types.Variable) []map[string]string {
	singleValued := map[string]string{}
	var multiValued [][]string

	var multiKeys []string
	multiOptions := map[string][]string{}

	for _, v := range variables {
		if v.Key == "" || len(v.Selected) == 0 {
			continue
		}
		if len(v.Selected) == 1 {
			singleValued[v.Key] = v.Selected[0]
			continue
		}
		multiKeys = append(multiKeys, v.Key)
		multiOptions[v.Key] = v.Selected
	}

	if len(multiKeys) == 0 {
		return []map[string]string{cloneStringMap(singleValued)}
	}

	for _, k := range multiKeys {
		multiValued = append(multiValued, multiOptions[k])
	}

	combos := cartesianProduct(multiValued)

	result := make([]map[string]string, 0, len(combos))
	for _, combo := range combos {
		perm := cloneStringMap(singleValued)
		for i, key := range multiKeys {
			perm[key] = combo[i]
		}
		result = append(result, perm)
	}
	return result
}

func cartesianProduct(lists [][]string) [][]string {
	result := [][]string{{}}
	for _, list := range lists {
		var next [][]string
		for _, prefix := range result {
			for _, item := range list {
				combo := make([]string, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				combo = append(combo, item)
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
