package builder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/types"
)

// DefaultRecipeFilename is the recipe Build looks for under a context
// directory when no explicit recipe_path is given.
const DefaultRecipeFilename = "Recipefile"

var keywordKinds = map[string]types.BuildInstructionKind{
	"FROM":        types.InstrFrom,
	"RUN":         types.InstrRun,
	"CMD":         types.InstrCmd,
	"LABEL":       types.InstrLabel,
	"EXPOSE":      types.InstrExpose,
	"ENV":         types.InstrEnv,
	"ADD":         types.InstrAdd,
	"COPY":        types.InstrCopy,
	"ENTRYPOINT":  types.InstrEntrypoint,
	"VOLUME":      types.InstrVolume,
	"USER":        types.InstrUser,
	"WORKDIR":     types.InstrWorkdir,
	"ARG":         types.InstrArg,
	"ONBUILD":     types.InstrOnbuild,
	"STOPSIGNAL":  types.InstrStopSignal,
	"HEALTHCHECK": types.InstrHealthcheck,
	"SHELL":       types.InstrShell,
}

// ParseRecipe parses recipe text into a BuildRecipe: one instruction per non-empty, non-comment line, keyword
// case-insensitive, arguments whitespace-separated. An unknown
// instruction keyword is a fatal parse error.
func ParseRecipe(content string) (types.BuildRecipe, error) {
	recipe := types.BuildRecipe{
		Env:    make(map[string]string),
		Labels: make(map[string]string),
	}

	for lineNo, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			recipe.Instructions = append(recipe.Instructions, types.BuildInstruction{
				Kind: types.InstrComment,
				Args: []string{strings.TrimSpace(strings.TrimPrefix(line, "#"))},
				Raw:  line,
				Line: lineNo + 1,
			})
			continue
		}

		fields := strings.Fields(line)
		keyword := strings.ToUpper(fields[0])
		kind, ok := keywordKinds[keyword]
		if !ok {
			return types.BuildRecipe{}, types.NewValidationError(
				fmt.Sprintf("builder: line %d: unknown instruction %q", lineNo+1, fields[0]))
		}

		args := fields[1:]
		instr := types.BuildInstruction{Kind: kind, Args: args, Raw: line, Line: lineNo + 1}
		recipe.Instructions = append(recipe.Instructions, instr)

		applyDerived(&recipe, kind, args)
	}

	return recipe, nil
}

// applyDerived folds one instruction's arguments into the recipe's
// derived fields, matching the accumulation dockerfile.rs performs
// while parsing (each KEY=VALUE instruction merges into the running
// map rather than replacing it).
func applyDerived(recipe *types.BuildRecipe, kind types.BuildInstructionKind, args []string) {
	switch kind {
	case types.InstrFrom:
		if len(args) > 0 {
			if ref, err := imagestore.ParseImageRef(args[0]); err == nil {
				recipe.BaseImage = ref
			}
		}
	case types.InstrLabel:
		for _, kv := range args {
			if k, v, ok := strings.Cut(kv, "="); ok {
				recipe.Labels[k] = v
			}
		}
	case types.InstrEnv:
		for _, kv := range args {
			if k, v, ok := strings.Cut(kv, "="); ok {
				recipe.Env[k] = v
			}
		}
	case types.InstrExpose:
		for _, portStr := range args {
			proto := types.ProtocolTCP
			numStr := portStr
			if n, p, ok := strings.Cut(portStr, "/"); ok {
				numStr = n
				if strings.EqualFold(p, "udp") {
					proto = types.ProtocolUDP
				}
			}
			if port, err := strconv.Atoi(numStr); err == nil {
				recipe.ExposedPorts = append(recipe.ExposedPorts, types.PortMapping{
					ContainerPort: port,
					Protocol:      proto,
				})
			}
		}
	case types.InstrVolume:
		recipe.Volumes = append(recipe.Volumes, args...)
	case types.InstrUser:
		if len(args) > 0 {
			recipe.User = args[0]
		}
	case types.InstrWorkdir:
		if len(args) > 0 {
			recipe.WorkingDir = args[0]
		}
	case types.InstrStopSignal:
		if len(args) > 0 {
			recipe.StopSignal = args[0]
		}
	case types.InstrShell:
		recipe.Shell = args
	case types.InstrHealthcheck:
		recipe.Healthcheck = &types.HealthcheckSpec{Command: args}
	}
}
