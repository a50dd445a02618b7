package permutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbat/xbatctld/pkg/types"
)

func TestSubstitute(t *testing.T) {
	config := map[string]any{
		"job-name": "my bench",
		"nodes":    []string{"a", "b"},
	}
	out := Substitute(config, "#JOB-NAME# on #NODES#")
	assert.Equal(t, "my bench on a,b", out)
}

func TestSubstituteLeavesUnknownMarkersUntouched(t *testing.T) {
	out := Substitute(map[string]any{"known": "x"}, "#KNOWN# #UNKNOWN#")
	assert.Equal(t, "x #UNKNOWN#", out)
}

func TestGenerateVariablePermutationsSingleValued(t *testing.T) {
	vars := []types.Variable{
		{Key: "ranks", Selected: []string{"4"}},
		{Key: "empty", Selected: nil},
	}
	perms := GenerateVariablePermutations(vars)
	require.Len(t, perms, 1)
	assert.Equal(t, "4", perms[0]["ranks"])
	assert.NotContains(t, perms[0], "empty")
}

func TestGenerateVariablePermutationsCartesianProduct(t *testing.T) {
	vars := []types.Variable{
		{Key: "ranks", Selected: []string{"4", "8"}},
		{Key: "nodes", Selected: []string{"1", "2"}},
		{Key: "fixed", Selected: []string{"x"}},
	}
	perms := GenerateVariablePermutations(vars)
	require.Len(t, perms, 4)
	for _, p := range perms {
		assert.Equal(t, "x", p["fixed"])
		assert.Contains(t, []string{"4", "8"}, p["ranks"])
		assert.Contains(t, []string{"1", "2"}, p["nodes"])
	}
}

func TestExpandGeneratesOnePermutationPerVariantVariableIteration(t *testing.T) {
	benchmark := &types.Benchmark{
		RunNumber: 7,
		Configuration: map[string]any{
			"configuration": map[string]any{
				"configurationName": "my config",
				"iterations":        2,
				"jobscript": []any{
					map[string]any{"variantName": "variant-a", "job-name": "", "nodelist": ""},
				},
			},
		},
		Variables: []types.Variable{
			{Key: "ranks", Selected: []string{"4", "8"}},
		},
	}

	templates := Templates{
		JobscriptIn:     "#SBATCH --nodelist=#NODELIST#\n#XBAT-START#\nranks=#RANKS#\n#XBAT-STOP#\n",
		UserJobscriptIn: "#SBATCH --nodelist=#NODELIST#\n#XBAT-START#\nranks=#RANKS#\n#XBAT-STOP#\n",
	}

	perms, err := Expand(benchmark, templates, "/home/alice/.xbat/outputs", "/home/alice/.xbat/logs")
	require.NoError(t, err)
	require.Len(t, perms, 4) // 1 variant x 2 ranks x 2 iterations

	for _, p := range perms {
		assert.Equal(t, int64(7), p.RunNumber)
		assert.Contains(t, p.JobscriptFile, "#SBATCH --nodelist=")
		assert.True(t, len(p.JobscriptFile) > 0)
		// empty nodelist directive is commented out
		assert.Contains(t, p.JobscriptFile, "##SBATCH --nodelist=")
		assert.Contains(t, p.JobscriptFile, "captureStart")
		assert.Contains(t, p.UserJobscriptFile, "## starting measurement ##")
	}
}

func TestExpandAutoGeneratesJobNameWhenBlank(t *testing.T) {
	benchmark := &types.Benchmark{
		RunNumber: 3,
		Configuration: map[string]any{
			"configuration": map[string]any{
				"configurationName": "my config",
				"iterations":        1,
				"jobscript": []any{
					map[string]any{"variantName": "variant a", "job-name": ""},
				},
			},
		},
	}
	templates := Templates{JobscriptIn: "name=#JOB-NAME#", UserJobscriptIn: "name=#JOB-NAME#"}

	perms, err := Expand(benchmark, templates, "/out", "/log")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "name=3-my_config-variant_a-0", perms[0].JobscriptFile)
}
