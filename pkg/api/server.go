package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/polisproject/polisd/pkg/auth"
	"github.com/polisproject/polisd/pkg/builder"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/log"
	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/stats"
	"github.com/polisproject/polisd/pkg/types"
)

// Permission strings, §6. Every route below declares at most one of
// these: /health, /metrics, /auth/login and /auth/refresh are served
// without requireAuth, and /auth/logout and /auth/me require a valid
// token but no permission.
const (
	PermContainersRead   = "containers:read"
	PermContainersWrite  = "containers:write"
	PermContainersDelete = "containers:delete"
	PermImagesRead       = "images:read"
	PermImagesWrite      = "images:write"
	PermImagesDelete     = "images:delete"
	PermSystemRead       = "system:read"
	PermSystemAdmin      = "system:admin"
	PermAuthRead         = "auth:read"
	PermAuthWrite        = "auth:write"
)

// Server multiplexes Runtime, ImageStore, AuthMgr, Builder, and Stats
// into the REST (gorilla/mux) and RPC (grpc+json, see rpc.go) wire
// surfaces of §4.11. It holds no state of its own beyond routing.
type Server struct {
	Runtime *runtime.Manager
	Images  *imagestore.Manager
	Auth    *auth.Manager
	Builder *builder.Builder
	Stats   *stats.Collector

	Version string

	router *mux.Router
}

// NewServer wires a Server from its already-constructed subsystem
// managers and builds the REST route table.
func NewServer(rt *runtime.Manager, images *imagestore.Manager, authMgr *auth.Manager, bld *builder.Builder, collector *stats.Collector, version string) *Server {
	s := &Server{
		Runtime: rt,
		Images:  images,
		Auth:    authMgr,
		Builder: bld,
		Stats:   collector,
		Version: version,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the REST mux so it can be wrapped (e.g. behind
// logRequests) or embedded by a caller that also serves /metrics.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the REST server on addr, blocking until it
// returns (always with a non-nil error, per net/http.Server).
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      logRequests(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("rest: listening")
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/system/info", s.requireAuth(PermSystemRead, s.handleSystemInfo)).Methods(http.MethodGet)
	r.HandleFunc("/system/stats", s.requireAuth(PermSystemRead, s.handleSystemStats)).Methods(http.MethodGet)

	r.HandleFunc("/containers", s.requireAuth(PermContainersRead, s.handleListContainers)).Methods(http.MethodGet)
	r.HandleFunc("/containers", s.requireAuth(PermContainersWrite, s.handleCreateContainer)).Methods(http.MethodPost)
	r.HandleFunc("/containers/{id}", s.requireAuth(PermContainersRead, s.handleGetContainer)).Methods(http.MethodGet)
	r.HandleFunc("/containers/{id}/start", s.requireAuth(PermContainersWrite, s.handleStartContainer)).Methods(http.MethodPost)
	r.HandleFunc("/containers/{id}/stop", s.requireAuth(PermContainersWrite, s.handleStopContainer)).Methods(http.MethodPost)
	r.HandleFunc("/containers/{id}/pause", s.requireAuth(PermContainersWrite, s.handlePauseContainer)).Methods(http.MethodPost)
	r.HandleFunc("/containers/{id}/unpause", s.requireAuth(PermContainersWrite, s.handleUnpauseContainer)).Methods(http.MethodPost)
	r.HandleFunc("/containers/{id}", s.requireAuth(PermContainersDelete, s.handleRemoveContainer)).Methods(http.MethodDelete)
	r.HandleFunc("/containers/{id}/logs", s.requireAuth(PermContainersRead, s.handleContainerLogs)).Methods(http.MethodGet)
	r.HandleFunc("/containers/{id}/health", s.requireAuth(PermContainersRead, s.handleContainerHealth)).Methods(http.MethodGet)

	r.HandleFunc("/images", s.requireAuth(PermImagesRead, s.handleListImages)).Methods(http.MethodGet)
	r.HandleFunc("/images/pull", s.requireAuth(PermImagesWrite, s.handlePullImage)).Methods(http.MethodPost)
	r.HandleFunc("/images/search", s.requireAuth(PermImagesRead, s.handleSearchImages)).Methods(http.MethodGet)
	r.HandleFunc("/images/{id}", s.requireAuth(PermImagesDelete, s.handleRemoveImage)).Methods(http.MethodDelete)
	r.HandleFunc("/images/build", s.requireAuth(PermImagesWrite, s.handleBuildImage)).Methods(http.MethodPost)

	r.HandleFunc("/metrics/system", s.requireAuth(PermSystemRead, s.handleMetricsSystem)).Methods(http.MethodGet)
	r.HandleFunc("/metrics/containers/{id}", s.requireAuth(PermSystemRead, s.handleMetricsContainer)).Methods(http.MethodGet)
	r.Handle("/metrics", stats.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.requireAuth("", s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.requireAuth("", s.handleMe)).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	containers := s.Runtime.ListContainers(runtime.ListFilter{})
	images := s.Images.List()
	writeJSON(w, http.StatusOK, systemInfoFromCounts(s.Version, "linux", "amd64", len(containers), len(images)))
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, types.NewInternalError("stats collector not configured"))
		return
	}
	writeJSON(w, http.StatusOK, systemStatsFromType(s.Stats.SystemStats()))
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	filter := runtime.ListFilter{
		Name:   r.URL.Query().Get("name"),
		Status: types.ContainerStatus(r.URL.Query().Get("status")),
	}
	containers := s.Runtime.ListContainers(filter)
	out := make([]containerDTO, 0, len(containers))
	for _, c := range containers {
		out = append(out, containerFromType(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, types.NewValidationError(err.Error()))
		return
	}
	if req.Name == "" || req.Image == "" {
		writeError(w, types.NewValidationError("name and image are required"))
		return
	}

	id, err := s.Runtime.CreateContainer(r.Context(), req.Name, req.Image, req.Command, req.toOptions())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) containerID(r *http.Request) (types.ContainerId, error) {
	return types.ParseContainerId(mux.Vars(r)["id"])
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.Runtime.GetContainer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containerFromType(c))
}

func (s *Server) handleStartContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Runtime.StartContainer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.Runtime.GetContainer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containerFromType(c))
}

func (s *Server) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	grace := 10 * time.Second
	if v := r.URL.Query().Get("grace_period"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			grace = time.Duration(secs) * time.Second
		}
	}
	if err := s.Runtime.StopContainer(r.Context(), id, grace); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.Runtime.GetContainer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containerFromType(c))
}

func (s *Server) handlePauseContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Runtime.PauseContainer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Paused"})
}

func (s *Server) handleUnpauseContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Runtime.UnpauseContainer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Running"})
}

func (s *Server) handleRemoveContainer(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := s.Runtime.RemoveContainer(r.Context(), id, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String()})
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tail := 0
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tail = n
		}
	}
	lines, err := s.Runtime.ContainerLogs(id, tail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

func (s *Server) handleContainerHealth(w http.ResponseWriter, r *http.Request) {
	id, err := s.containerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status, ok := s.Runtime.ContainerHealth(id)
	if !ok {
		writeError(w, types.NewNotFoundError("no healthcheck configured for container "+id.String()))
		return
	}
	writeJSON(w, http.StatusOK, healthStatusFromType(status))
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images := s.Images.List()
	out := make([]imageDTO, 0, len(images))
	for _, img := range images {
		out = append(out, imageFromType(img))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePullImage(w http.ResponseWriter, r *http.Request) {
	var req pullImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, types.NewValidationError(err.Error()))
		return
	}
	if req.Image == "" {
		writeError(w, types.NewValidationError("image is required"))
		return
	}
	img, err := s.Images.Pull(r.Context(), req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, imageFromType(img))
}

func (s *Server) handleBuildImage(w http.ResponseWriter, r *http.Request) {
	var req buildImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, types.NewValidationError(err.Error()))
		return
	}
	if req.ContextDir == "" || req.Tag == "" {
		writeError(w, types.NewValidationError("context_dir and tag are required"))
		return
	}
	if s.Builder == nil {
		writeError(w, types.NewInternalError("builder not configured"))
		return
	}
	img, err := s.Builder.Build(r.Context(), req.ContextDir, req.RecipePath, req.Tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageFromType(img))
}

func (s *Server) handleSearchImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results := s.Images.Search(r.Context(), query)
	out := make([]searchResultDTO, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultFromType(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	force := r.URL.Query().Get("force") == "true"
	if err := s.Images.Remove(id, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleMetricsSystem(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, types.NewInternalError("stats collector not configured"))
		return
	}
	writeJSON(w, http.StatusOK, systemStatsFromType(s.Stats.SystemStats()))
}

func (s *Server) handleMetricsContainer(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, types.NewInternalError("stats collector not configured"))
		return
	}
	id := mux.Vars(r)["id"]
	sample, ok := s.Stats.ContainerStatsByID(id)
	if !ok {
		writeError(w, types.NewNotFoundError("no stats sample for container "+id))
		return
	}
	writeJSON(w, http.StatusOK, containerStatsFromType(sample))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, types.NewValidationError(err.Error()))
		return
	}
	result, err := s.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResultDTO{Token: result.Token, Username: result.User.Username, ExpiresAt: result.ExpiresAt})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, types.NewUnauthenticatedError("missing bearer token"))
		return
	}
	result, err := s.Auth.RefreshToken(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResultDTO{Token: result.Token, Username: result.User.Username, ExpiresAt: result.ExpiresAt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	s.Auth.Logout(token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError("no active session"))
		return
	}
	perms := make([]string, 0, len(session.Permissions))
	for p := range session.Permissions {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":    session.Username,
		"permissions": perms,
		"expires_at":  session.ExpiresAt,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
