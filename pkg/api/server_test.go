package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polisproject/polisd/pkg/auth"
	"github.com/polisproject/polisd/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	authMgr, err := auth.NewManager("test-secret", "")
	require.NoError(t, err)
	require.NoError(t, seedAllPermissions(authMgr))

	s := &Server{Auth: authMgr, Version: "test"}
	s.router = s.buildRouter()
	return s
}

func seedAllPermissions(authMgr *auth.Manager) error {
	if _, err := authMgr.Roles().CreateRole("admin", []string{
		PermContainersRead, PermContainersWrite, PermContainersDelete,
		PermImagesRead, PermImagesWrite, PermImagesDelete,
		PermSystemRead, PermSystemAdmin, PermAuthRead, PermAuthWrite,
	}); err != nil {
		return err
	}
	admin, err := authMgr.Users().GetUserByUsername("admin")
	if err != nil {
		return err
	}
	return authMgr.Roles().AssignRole(admin.ID, "admin")
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/system/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThenAuthenticatedRouteSucceeds(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result authResultDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.NotEmpty(t, result.Token)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+result.Token)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusForKindCoversEveryKind(t *testing.T) {
	cases := map[types.Kind]int{
		types.KindValidation:        http.StatusBadRequest,
		types.KindNotFound:          http.StatusNotFound,
		types.KindConflict:          http.StatusConflict,
		types.KindUnauthenticated:   http.StatusUnauthorized,
		types.KindForbidden:         http.StatusForbidden,
		types.KindResourceExhausted: http.StatusServiceUnavailable,
		types.KindIntegrity:         http.StatusInternalServerError,
		types.KindIO:                http.StatusInternalServerError,
		types.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusForKind(kind), "kind %s", kind)
	}
}

func TestWriteErrorIncludesCodeAndMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, types.NewNotFoundError("container missing"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "not_found", body["error"])
	require.True(t, strings.Contains(body["message"], "container missing"))
}

func TestCreateContainerRequestToOptionsMapsSecurityProfile(t *testing.T) {
	req := createContainerRequest{
		Name:            "web",
		Image:           "nginx:latest",
		SecurityProfile: "high-security",
		Ports: []portMappingDTO{
			{HostPort: 8080, ContainerPort: 80, Protocol: "udp"},
		},
	}
	opts := req.toOptions()
	require.Equal(t, "high-security", string(opts.SecurityProfile))
	require.Len(t, opts.Ports, 1)
	require.Equal(t, types.ProtocolUDP, opts.Ports[0].Protocol)
}

func TestCreateContainerRequestToOptionsDefaultsProfile(t *testing.T) {
	req := createContainerRequest{Name: "web", Image: "nginx:latest"}
	opts := req.toOptions()
	require.Equal(t, "default", string(opts.SecurityProfile))
}

func TestContainerFromTypeRoundTripsCoreFields(t *testing.T) {
	id := types.NewContainerId()
	c := types.Container{
		ID:     id,
		Name:   "web",
		Image:  types.ImageRef{Repository: "nginx", Tag: "latest"},
		Status: types.StatusRunning,
	}
	dto := containerFromType(c)
	require.Equal(t, id.String(), dto.ID)
	require.Equal(t, "web", dto.Name)
	require.Equal(t, "Running", dto.Status)
	require.Equal(t, "nginx:latest", dto.Image)
}
