package permutation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xbat/xbatctld/pkg/types"
)

// xbatStartTemplate/xbatStopTemplate are injected into the scheduler-facing
// jobscript so that time-series capture windows line up with job runtime;
// the user-facing copy gets plain comment markers instead.
const (
	xbatStartTemplate = `echo "captureStart=$(date +%%s)" >> "%s/${SLURM_JOBID}.time.log" || true`
	xbatStopTemplate  = `echo "captureEnd=$(date +%%s)" >> "%s/${SLURM_JOBID}.time.log" || true`

	userStartComment = "## starting measurement ##"
	userStopComment  = "## xbat stopping measurement ##"

	nodelistDirective = "#SBATCH --nodelist="
)

// Templates holds the jobscript templates substitution is performed
// against: jobscriptIn is what is actually submitted to the scheduler,
// userJobscriptIn is the comment-only variant shown back to the user.
type Templates struct {
	JobscriptIn     string
	UserJobscriptIn string
}

// Expand renders one Permutation per (jobscript variant x variable
// permutation x iteration) combination for benchmark, given its already
// persisted configuration and variables.
//
// config is benchmark.Configuration["configuration"], expected to carry at
// least "jobscript" ([]any of map[string]any variants), "iterations" (int) and
// "configurationName" (string). outputDir/logDir are the external
// (host-visible) paths jobs should write results and captures under.
func Expand(benchmark *types.Benchmark, templates Templates, outputDir, logDir string) ([]Permutation, error) {
	config, ok := benchmark.Configuration["configuration"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("benchmark configuration missing \"configuration\" object")
	}

	variants, ok := config["jobscript"].([]any)
	if !ok {
		return nil, fmt.Errorf("benchmark configuration missing \"jobscript\" variant list")
	}

	iterations, err := toInt(config["iterations"])
	if err != nil {
		return nil, fmt.Errorf("benchmark configuration iterations: %w", err)
	}

	configurationName, _ := config["configurationName"].(string)

	variablePermutations := GenerateVariablePermutations(benchmark.Variables)

	var permutations []Permutation
	permutationNr := 0

	for variantIdx, rawVariant := range variants {
		raw, ok := rawVariant.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jobscript variant %d is not an object", variantIdx)
		}
		variant := normalizeVariant(raw)

		for _, variablePermutation := range variablePermutations {
			for iteration := 0; iteration < iterations; iteration++ {
				variantData := cloneAnyMap(config)
				variantData["jobscript"] = variant
				variantData["OUTPUT_DIRECTORY"] = outputDir + "/%j.out"
				variantData["LOG_DIRECTORY"] = logDir

				inputData := cloneAnyMap(variantData)
				for k, v := range variant {
					inputData[k] = v
				}
				for k, v := range variablePermutation {
					inputData[k] = v
				}
				inputData["xbat-start"] = fmt.Sprintf(xbatStartTemplate, logDir)
				inputData["xbat-stop"] = fmt.Sprintf(xbatStopTemplate, logDir)

				jobName, _ := inputData["job-name"].(string)
				if strings.TrimSpace(jobName) != "" {
					inputData["job-name"] = strings.ReplaceAll(jobName, " ", "_")
				} else {
					variantName, _ := inputData["variantName"].(string)
					inputData["job-name"] = fmt.Sprintf("%d-%s-%s-%d",
						benchmark.RunNumber,
						strings.ReplaceAll(configurationName, " ", "_"),
						strings.ReplaceAll(variantName, " ", "_"),
						iteration)
				}

				jobscriptStr := Substitute(inputData, templates.JobscriptIn)

				userInput := cloneAnyMap(inputData)
				userInput["xbat-start"] = userStartComment
				userInput["xbat-stop"] = userStopComment
				userJobscriptStr := Substitute(userInput, templates.UserJobscriptIn)

				if nodelist, present := inputData["nodelist"]; present {
					if s, _ := nodelist.(string); s == "" {
						jobscriptStr = strings.ReplaceAll(jobscriptStr, nodelistDirective, "#"+nodelistDirective)
						userJobscriptStr = strings.ReplaceAll(userJobscriptStr, nodelistDirective, "#"+nodelistDirective)
					}
				}

				permutations = append(permutations, Permutation{
					Identificator:     fmt.Sprintf("%d-%d-%d", benchmark.RunNumber, variantIdx, iteration),
					RunNumber:         benchmark.RunNumber,
					VariantIndex:      variantIdx,
					PermutationNr:     permutationNr,
					Iteration:         iteration,
					Configuration:     variantData,
					Variables:         variablePermutation,
					JobscriptFile:     jobscriptStr,
					UserJobscriptFile: userJobscriptStr,
					CLI:               false,
				})
				permutationNr++
			}
		}
	}

	return permutations, nil
}

// normalizeVariant maps older jobscript shapes onto the current
// single-script form: the separate preparation/execution/postprocessing
// phases collapse into one script with capture markers between them, and
// the pre-Slurm field names are renamed to their sbatch directives.
func normalizeVariant(variant map[string]any) map[string]any {
	v := cloneAnyMap(variant)

	prep, hasPrep := v["preparation"].(string)
	execution, hasExec := v["execution"].(string)
	post, hasPost := v["postprocessing"].(string)
	if hasPrep && hasExec && hasPost {
		v["script"] = fmt.Sprintf("\n%s\n\n#XBAT-START#\n\n%s\n\n#XBAT-STOP#\n\n%s", prep, execution, post)
		delete(v, "preparation")
		delete(v, "execution")
		delete(v, "postprocessing")
	}

	for _, rename := range [][2]string{{"nodeCount", "nodes"}, {"walltime", "time"}, {"jobName", "job-name"}} {
		if val, ok := v[rename[0]]; ok {
			v[rename[1]] = val
			delete(v, rename[0])
		}
	}

	if _, ok := v["nodelist"]; !ok {
		v["nodelist"] = ""
	}

	v["output"] = ".xbat/outputs/%j.out"
	v["error"] = ".xbat/outputs/%j.out"

	if partitions, ok := v["partition"].([]any); ok {
		v["partition"] = stringifyConfigValue(partitions)
	}

	return v
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
