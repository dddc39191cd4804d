package builder

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestParseRecipeAccumulatesDerivedFields(t *testing.T) {
	content := "FROM alpine:3.19\n" +
		"LABEL maintainer=ops team=core\n" +
		"ENV PATH=/usr/bin HOME=/root\n" +
		"EXPOSE 8080/tcp 53/udp\n" +
		"VOLUME /data\n" +
		"USER app\n" +
		"WORKDIR /srv\n" +
		"# a comment\n" +
		"RUN echo hi\n"

	recipe, err := ParseRecipe(content)
	require.NoError(t, err)

	require.Equal(t, "library/alpine", recipe.BaseImage.Repository)
	require.Equal(t, "3.19", recipe.BaseImage.Tag)
	require.Equal(t, "ops", recipe.Labels["maintainer"])
	require.Equal(t, "core", recipe.Labels["team"])
	require.Equal(t, "/usr/bin", recipe.Env["PATH"])
	require.Len(t, recipe.ExposedPorts, 2)
	require.Equal(t, []string{"/data"}, recipe.Volumes)
	require.Equal(t, "app", recipe.User)
	require.Equal(t, "/srv", recipe.WorkingDir)

	var sawComment bool
	for _, instr := range recipe.Instructions {
		if instr.Kind == types.InstrComment {
			sawComment = true
			require.Equal(t, []string{"a comment"}, instr.Args)
		}
	}
	require.True(t, sawComment)
}

func TestParseRecipeRejectsUnknownInstruction(t *testing.T) {
	_, err := ParseRecipe("FROM alpine\nFROBNICATE x\n")
	require.Error(t, err)
}

func TestParseRecipeSkipsBlankLines(t *testing.T) {
	recipe, err := ParseRecipe("FROM alpine\n\n\nCMD echo hi\n")
	require.NoError(t, err)
	require.Len(t, recipe.Instructions, 2)
}

func TestParseRecipeIsCaseInsensitive(t *testing.T) {
	recipe, err := ParseRecipe("from alpine\nRun echo hi\n")
	require.NoError(t, err)
	require.Equal(t, types.InstrFrom, recipe.Instructions[0].Kind)
	require.Equal(t, types.InstrRun, recipe.Instructions[1].Kind)
}
