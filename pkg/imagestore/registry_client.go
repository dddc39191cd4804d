package imagestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/polisproject/polisd/pkg/types"
)

const (
	mediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaTypeOCIIndex     = ispec.MediaTypeImageIndex
)

// registryClient speaks the Docker/OCI distribution v2 API against a
// single resolved base URL (mirror or primary location).
type registryClient struct {
	client *http.Client
	base   string // e.g. https://registry-1.docker.io/v2
	token  string // bearer token, obtained lazily via authenticate
}

func newRegistryClient(base string) *registryClient {
	return &registryClient{
		client: &http.Client{Timeout: 30 * time.Second},
		base:   base,
	}
}

// manifestRef fetches the manifest for repo:reference, following a
// manifest list/OCI index down to the first linux/amd64 entry when
// the registry returns a multi-platform manifest.
func (c *registryClient) manifestRef(ctx context.Context, repo, reference string) (ispec.Manifest, digest.Digest, error) {
	body, mediaType, dgst, err := c.fetchManifest(ctx, repo, reference)
	if err != nil {
		return ispec.Manifest{}, "", err
	}

	if mediaType == mediaTypeManifestList || mediaType == mediaTypeOCIIndex {
		var index ispec.Index
		if err := json.Unmarshal(body, &index); err != nil {
			return ispec.Manifest{}, "", types.NewIOError("imagestore: decode manifest index", err)
		}
		target, err := selectPlatform(index.Manifests)
		if err != nil {
			return ispec.Manifest{}, "", err
		}
		return c.manifestRef(ctx, repo, target.Digest.String())
	}

	var manifest ispec.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return ispec.Manifest{}, "", types.NewIOError("imagestore: decode manifest", err)
	}
	return manifest, dgst, nil
}

func selectPlatform(descs []ispec.Descriptor) (ispec.Descriptor, error) {
	for _, d := range descs {
		if d.Platform == nil {
			continue
		}
		if d.Platform.OS == "linux" && d.Platform.Architecture == "amd64" {
			return d, nil
		}
	}
	if len(descs) > 0 {
		return descs[0], nil
	}
	return ispec.Descriptor{}, types.NewNotFoundError("imagestore: manifest index has no platform entries")
}

func (c *registryClient) fetchManifest(ctx context.Context, repo, reference string) ([]byte, string, digest.Digest, error) {
	url := fmt.Sprintf("%s/%s/manifests/%s", c.base, repo, reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", "", types.NewInternalError(fmt.Sprintf("imagestore: build manifest request: %v", err))
	}
	req.Header.Set("Accept", fmt.Sprintf("%s, %s, %s, %s",
		ispec.MediaTypeImageManifest, ispec.MediaTypeImageIndex,
		"application/vnd.docker.distribution.manifest.v2+json", mediaTypeManifestList))
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", "", types.NewIOError(fmt.Sprintf("imagestore: fetch manifest %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", registryStatusError(resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", types.NewIOError("imagestore: read manifest body", err)
	}

	dgst := digest.FromBytes(body)
	return body, resp.Header.Get("Content-Type"), dgst, nil
}

// blob downloads a blob by digest, verifying the downloaded bytes hash
// to the requested digest before returning them.
func (c *registryClient) blob(ctx context.Context, repo string, dgst digest.Digest) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/blobs/%s", c.base, repo, dgst.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewInternalError(fmt.Sprintf("imagestore: build blob request: %v", err))
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewIOError(fmt.Sprintf("imagestore: fetch blob %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, registryStatusError(resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewIOError("imagestore: read blob body", err)
	}

	if digest.FromBytes(body) != dgst {
		return nil, types.NewIntegrityError(fmt.Sprintf("imagestore: blob %s failed digest verification", dgst))
	}
	return body, nil
}

func (c *registryClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// authenticate performs the Docker-style anonymous token exchange when
// the registry challenges an unauthenticated request with a 401
// carrying a Www-Authenticate Bearer header.
func (c *registryClient) authenticate(ctx context.Context, repo, reference string) error {
	url := fmt.Sprintf("%s/%s/manifests/%s", c.base, repo, reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("imagestore: build probe request: %v", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.NewIOError(fmt.Sprintf("imagestore: probe %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	realm, service, scope, ok := parseBearerChallenge(resp.Header.Get("Www-Authenticate"), repo)
	if !ok {
		return nil
	}

	tokenURL := fmt.Sprintf("%s?service=%s&scope=%s", realm, service, scope)
	tokReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("imagestore: build token request: %v", err))
	}
	tokResp, err := c.client.Do(tokReq)
	if err != nil {
		return types.NewIOError("imagestore: fetch registry token", err)
	}
	defer tokResp.Body.Close()
	if tokResp.StatusCode != http.StatusOK {
		return registryStatusError(tokResp.StatusCode, tokenURL)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tokResp.Body).Decode(&payload); err != nil {
		return types.NewIOError("imagestore: decode token response", err)
	}
	if payload.Token != "" {
		c.token = payload.Token
	} else {
		c.token = payload.AccessToken
	}
	return nil
}

// parseBearerChallenge extracts realm/service from a
// `Bearer realm="...",service="...",scope="..."` Www-Authenticate
// header, substituting repo into the pull scope when absent.
func parseBearerChallenge(header, repo string) (realm, service, scope string, ok bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "", "", false
	}
	fields := make(map[string]string)
	for _, part := range strings.Split(strings.TrimPrefix(header, "Bearer "), ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = strings.Trim(kv[1], `"`)
	}
	realm, ok = fields["realm"]
	if !ok {
		return "", "", "", false
	}
	service = fields["service"]
	scope = fields["scope"]
	if scope == "" {
		scope = fmt.Sprintf("repository:%s:pull", repo)
	}
	return realm, service, scope, true
}

// searchOneEndpoint queries a single registry's /v2/_catalog listing
// and filters repository names containing query, since few registries
// implement a dedicated search API but the v2 catalog endpoint is
// near-universal.
func searchOneEndpoint(ctx context.Context, endpoint, query string) ([]string, error) {
	url := fmt.Sprintf("%s/_catalog?n=100", endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewInternalError(fmt.Sprintf("imagestore: build catalog request: %v", err))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, types.NewIOError(fmt.Sprintf("imagestore: fetch catalog %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, registryStatusError(resp.StatusCode, url)
	}

	var payload struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewIOError("imagestore: decode catalog response", err)
	}

	var hits []string
	for _, repo := range payload.Repositories {
		if strings.Contains(repo, query) {
			hits = append(hits, repo)
		}
	}
	return hits, nil
}

func registryStatusError(status int, url string) error {
	switch {
	case status == http.StatusNotFound:
		return types.NewNotFoundError(fmt.Sprintf("imagestore: %s not found", url))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewUnauthenticatedError(fmt.Sprintf("imagestore: unauthorized fetching %s", url))
	case status >= 400 && status < 500:
		return types.NewValidationError(fmt.Sprintf("imagestore: registry rejected request to %s (%d)", url, status))
	default:
		return types.NewIOError(fmt.Sprintf("imagestore: registry error fetching %s (%d)", url, status), nil)
	}
}
