package imagestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/polisproject/polisd/pkg/types"
)

// DefaultStorePath is the on-disk root for content-addressed layer
// blobs, mirroring the convention the rest of this module uses for
// its other /var/lib/polisd state directories.
const DefaultStorePath = "/var/lib/polisd/images"

// Manager is ImageStore: a content-addressed layer store plus
// an in-memory image index, backed by a configurable registry search
// path.
type Manager struct {
	mu       sync.RWMutex
	basePath string
	config   RegistryConfig

	images    map[string]types.Image // id -> Image
	byName    map[string]string      // "repo:tag" -> id
	layerRefs map[string]int         // digest -> number of images referencing it
}

// NewManager returns a store rooted at basePath, creating the blob
// directory if needed.
func NewManager(basePath string, config RegistryConfig) (*Manager, error) {
	if basePath == "" {
		basePath = DefaultStorePath
	}
	if err := os.MkdirAll(filepath.Join(basePath, "blobs"), 0o755); err != nil {
		return nil, types.NewIOError("imagestore: create blob directory", err)
	}

	return &Manager{
		basePath:  basePath,
		config:    config,
		images:    make(map[string]types.Image),
		byName:    make(map[string]string),
		layerRefs: make(map[string]int),
	}, nil
}

func (m *Manager) blobPath(dgst string) string {
	clean := strings.ReplaceAll(dgst, ":", "-")
	return filepath.Join(m.basePath, "blobs", clean)
}

// WriteLayerBlob persists data under dgst's content-addressed path,
// skipping the write if the blob already exists. Builder uses this to
// land the layers it produces in the same store Pull populates.
func (m *Manager) WriteLayerBlob(dgst string, data []byte) error {
	path := m.blobPath(dgst)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeBlobAtomic(path, data)
}

// Pull resolves ref against the registry search path, downloads and
// verifies the manifest/config/layers, and registers the resulting
// Image.
func (m *Manager) Pull(ctx context.Context, ref string) (types.Image, error) {
	parsed, err := ParseImageRef(ref)
	if err != nil {
		return types.Image{}, err
	}

	qualified := isQualifiedReference(ref)
	reference := parsed.Tag
	if parsed.Digest != "" {
		reference = parsed.Digest
	}

	var lastErr error
	candidates := []string{parsed.Registry}
	if !qualified {
		candidates = m.config.SearchRegistries()
	}

	for _, registry := range candidates {
		if m.config.IsBlocked(registry) {
			lastErr = types.NewForbiddenError(fmt.Sprintf("imagestore: registry %q is blocked", registry))
			continue
		}

		image, err := m.pullFromRegistry(ctx, registry, parsed.Repository, reference)
		if err != nil {
			lastErr = err
			continue
		}

		m.mu.Lock()
		m.register(image, parsed.Repository, parsed.Tag)
		m.mu.Unlock()
		return image, nil
	}

	if lastErr == nil {
		lastErr = types.NewNotFoundError(fmt.Sprintf("imagestore: no registry resolved %q", ref))
	}
	return types.Image{}, lastErr
}

func (m *Manager) pullFromRegistry(ctx context.Context, registry, repo, reference string) (types.Image, error) {
	for _, endpoint := range m.endpointsFor(registry) {
		client := newRegistryClient(endpoint)
		if err := client.authenticate(ctx, repo, reference); err != nil {
			continue
		}

		manifest, manifestDigest, err := client.manifestRef(ctx, repo, reference)
		if err != nil {
			continue
		}

		image, err := m.materialize(ctx, client, repo, manifest, manifestDigest)
		if err != nil {
			return types.Image{}, err
		}
		return image, nil
	}
	return types.Image{}, types.NewIOError(fmt.Sprintf("imagestore: could not reach any endpoint for %s/%s", registry, repo), nil)
}

// endpointsFor returns the ordered endpoints to try: mirror, then
// fallback location, for a configured registry; a single
// https://<registry>/v2 guess for an unconfigured one.
func (m *Manager) endpointsFor(registry string) []string {
	var endpoints []string
	if primary, ok := m.config.RegistryURL(registry); ok {
		endpoints = append(endpoints, primary)
		if fallback, ok := m.config.FallbackURL(registry); ok && fallback != primary {
			endpoints = append(endpoints, fallback)
		}
		return endpoints
	}
	return []string{"https://" + registry + "/v2"}
}

// materialize downloads the image config and every layer blob named
// by manifest, verifying each against its declared digest, and
// composes the resulting Image. Each blob is written to a temporary
// file and renamed into place, so a failed write never leaves a partial
// blob under its digest path; layers already stored by an earlier
// iteration are kept when a later one fails.
func (m *Manager) materialize(ctx context.Context, client *registryClient, repo string, manifest ispec.Manifest, manifestDigest digest.Digest) (types.Image, error) {
	configBytes, err := client.blob(ctx, repo, manifest.Config.Digest)
	if err != nil {
		return types.Image{}, err
	}

	var ociConfig ispec.Image
	if err := json.Unmarshal(configBytes, &ociConfig); err != nil {
		return types.Image{}, types.NewIOError("imagestore: decode image config", err)
	}

	var layers []types.Layer
	var totalSize int64
	for _, desc := range manifest.Layers {
		path := m.blobPath(desc.Digest.String())
		if _, err := os.Stat(path); err != nil {
			data, err := client.blob(ctx, repo, desc.Digest)
			if err != nil {
				return types.Image{}, err
			}
			if err := writeBlobAtomic(path, data); err != nil {
				return types.Image{}, err
			}
		}

		layers = append(layers, types.Layer{
			Digest:    desc.Digest.String(),
			Size:      desc.Size,
			MediaType: desc.MediaType,
		})
		totalSize += desc.Size
	}

	var stopSignal string
	if ociConfig.Config.StopSignal != nil {
		stopSignal = *ociConfig.Config.StopSignal
	}

	config := types.ImageConfig{
		Entrypoint: ociConfig.Config.Entrypoint,
		Cmd:        ociConfig.Config.Cmd,
		Env:        parseEnvList(ociConfig.Config.Env),
		WorkingDir: ociConfig.Config.WorkingDir,
		Labels:     ociConfig.Config.Labels,
		User:       ociConfig.Config.User,
		StopSignal: stopSignal,
		Volumes:      volumeKeys(ociConfig.Config.Volumes),
		ExposedPorts: parseExposedPorts(ociConfig.Config.ExposedPorts),
	}

	return types.Image{
		ID:           manifest.Config.Digest.String(),
		Digest:       manifestDigest.String(),
		TotalSize:    totalSize,
		CreatedAt:    time.Now(),
		Architecture: ociConfig.Architecture,
		OS:           ociConfig.OS,
		Layers:       layers,
		Config:       config,
	}, nil
}

func parseEnvList(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func parseExposedPorts(ports map[string]struct{}) []types.PortMapping {
	out := make([]types.PortMapping, 0, len(ports))
	for key := range ports {
		portStr, proto, _ := strings.Cut(key, "/")
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		protocol := types.ProtocolTCP
		if strings.EqualFold(proto, "udp") {
			protocol = types.ProtocolUDP
		}
		out = append(out, types.PortMapping{ContainerPort: port, Protocol: protocol})
	}
	return out
}

func volumeKeys(volumes map[string]struct{}) []string {
	out := make([]string, 0, len(volumes))
	for k := range volumes {
		out = append(out, k)
	}
	return out
}

func writeBlobAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.NewIOError("imagestore: write blob", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.NewIOError("imagestore: finalize blob", err)
	}
	return nil
}

func isQualifiedReference(ref string) bool {
	first := ref
	if idx := strings.IndexByte(ref, '/'); idx >= 0 {
		first = ref[:idx]
	}
	return strings.ContainsAny(first, ".:") || first == "localhost"
}

// register inserts image into the index under name:tag and bumps the
// refcount of every layer it uses. Caller holds m.mu. The image starts
// with RefCount 0; Runtime calls IncRef/DecRef as containers are created
// from and removed against it.
func (m *Manager) register(image types.Image, repo, tag string) {
	if tag == "" {
		tag = "latest"
	}
	image.Name = repo
	image.Tag = tag
	image.RefCount = 0

	key := repo + ":" + tag
	if previous, ok := m.byName[key]; ok && previous != image.ID {
		m.decrementLayers(m.images[previous])
	}

	m.images[image.ID] = image
	m.byName[key] = image.ID
	for _, l := range image.Layers {
		m.layerRefs[l.Digest]++
	}
}

func (m *Manager) decrementLayers(image types.Image) {
	for _, l := range image.Layers {
		m.layerRefs[l.Digest]--
	}
}

// Add registers an image assembled by Builder directly, without going
// through a registry pull.
func (m *Manager) Add(image types.Image, repo, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(image, repo, tag)
	return nil
}

// Get returns the image named by id or by "repo:tag".
func (m *Manager) Get(ref string) (types.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if image, ok := m.images[ref]; ok {
		return image, nil
	}
	if id, ok := m.byName[ref]; ok {
		return m.images[id], nil
	}
	return types.Image{}, types.NewNotFoundError(fmt.Sprintf("imagestore: image %q not found", ref))
}

// resolveID maps ref (an image id or a "repo:tag" name) to its
// registered id. Caller holds m.mu.
func (m *Manager) resolveID(ref string) (string, bool) {
	if _, ok := m.images[ref]; ok {
		return ref, true
	}
	id, ok := m.byName[ref]
	return id, ok
}

// IncRef records that one more container now references the image named
// by ref. Runtime calls this when a container is created from the image.
func (m *Manager) IncRef(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.resolveID(ref)
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("imagestore: image %q not found", ref))
	}
	image := m.images[id]
	image.RefCount++
	m.images[id] = image
	return nil
}

// DecRef reverses IncRef. Runtime calls this when a container referencing
// the image is removed. RefCount never goes below zero.
func (m *Manager) DecRef(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.resolveID(ref)
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("imagestore: image %q not found", ref))
	}
	image := m.images[id]
	if image.RefCount > 0 {
		image.RefCount--
	}
	m.images[id] = image
	return nil
}

// List returns every registered image.
func (m *Manager) List() []types.Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Image, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, img)
	}
	return out
}

// Remove deletes the image by id. It fails when RefCount > 0 unless
// force is set.
func (m *Manager) Remove(id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	image, ok := m.images[id]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("imagestore: image %q not found", id))
	}
	if image.RefCount > 0 && !force {
		return types.NewConflictError(fmt.Sprintf("imagestore: image %q is in use by %d container(s)", id, image.RefCount))
	}

	for name, mappedID := range m.byName {
		if mappedID == id {
			delete(m.byName, name)
		}
	}
	delete(m.images, id)
	m.decrementLayers(image)
	return nil
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Registry   string
	Repository string
	StarCount  int
}

// Search performs a best-effort query against the /v2/_catalog
// endpoint of every registry in the search list, ignoring registries
// that reject or fail the probe.
func (m *Manager) Search(ctx context.Context, query string) []SearchResult {
	m.mu.RLock()
	registries := append([]string{}, m.config.SearchRegistries()...)
	m.mu.RUnlock()

	var results []SearchResult
	for _, registry := range registries {
		if m.config.IsBlocked(registry) {
			continue
		}
		for _, endpoint := range m.endpointsFor(registry) {
			hits, err := searchOneEndpoint(ctx, endpoint, query)
			if err != nil {
				continue
			}
			for _, h := range hits {
				results = append(results, SearchResult{Registry: registry, Repository: h})
			}
			break
		}
	}
	return results
}

// Cleanup removes every blob under basePath/blobs that is not
// referenced by any registered image.
func (m *Manager) Cleanup() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(m.basePath, "blobs"))
	if err != nil {
		return 0, types.NewIOError("imagestore: list blob directory", err)
	}

	live := make(map[string]bool, len(m.layerRefs))
	for dgst, count := range m.layerRefs {
		if count > 0 {
			live[strings.ReplaceAll(dgst, ":", "-")] = true
		}
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		if live[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(m.basePath, "blobs", entry.Name())); err == nil {
			removed++
		}
	}
	for dgst, count := range m.layerRefs {
		if count <= 0 {
			delete(m.layerRefs, dgst)
		}
	}
	return removed, nil
}
