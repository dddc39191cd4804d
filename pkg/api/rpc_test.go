package api

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polisproject/polisd/pkg/types"
)

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(containerIDRequest{ID: "abc"})
	require.NoError(t, err)

	var out containerIDRequest
	require.NoError(t, c.Unmarshal(data, &out))
	require.Equal(t, "abc", out.ID)
	require.Equal(t, "json", c.Name())
}

func TestRPCErrorMapsKindToGRPCCode(t *testing.T) {
	cases := map[error]codes.Code{
		types.NewNotFoundError("x"):          codes.NotFound,
		types.NewValidationError("x"):        codes.InvalidArgument,
		types.NewConflictError("x"):          codes.AlreadyExists,
		types.NewForbiddenError("x"):         codes.PermissionDenied,
		types.NewUnauthenticatedError("x"):   codes.Unauthenticated,
		types.NewResourceExhaustedError("x"): codes.ResourceExhausted,
		types.NewInternalError("x"):          codes.Internal,
	}
	for err, want := range cases {
		got := rpcError(err)
		st, ok := status.FromError(got)
		require.True(t, ok)
		require.Equal(t, want, st.Code())
	}
}

func TestRPCErrorNilIsNil(t *testing.T) {
	require.NoError(t, rpcError(nil))
}
