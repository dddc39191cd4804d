package builder

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/polisproject/polisd/pkg/buildcache"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/types"
)

// Builder is Builder: it turns a context directory plus a
// recipe into a new image, reusing BuildCache entries keyed by each
// instruction's content hash.
type Builder struct {
	cache  *buildcache.Cache
	images *imagestore.Manager
}

// New returns a Builder backed by cache and images.
func New(cache *buildcache.Cache, images *imagestore.Manager) *Builder {
	return &Builder{cache: cache, images: images}
}

// buildState accumulates the derived image config and layer list as
// instructions execute sequentially.
type buildState struct {
	layers []types.Layer
	config types.ImageConfig
}

// Build enumerates contextDir, parses the recipe at recipePath (or
// DefaultRecipeFilename under contextDir), executes its instructions
// against the layer cache, and registers the resulting image under
// tag.
func (b *Builder) Build(ctx context.Context, contextDir, recipePath, tag string) (types.Image, error) {
	buildCtx, err := NewContext(contextDir, recipePath)
	if err != nil {
		return types.Image{}, err
	}

	data, err := os.ReadFile(buildCtx.RecipePath)
	if err != nil {
		return types.Image{}, types.NewIOError("builder: read recipe", err)
	}

	recipe, err := ParseRecipe(string(data))
	if err != nil {
		return types.Image{}, err
	}

	state := &buildState{
		config: types.ImageConfig{
			Env:    map[string]string{},
			Labels: map[string]string{},
		},
	}

	for _, instr := range recipe.Instructions {
		if err := b.apply(ctx, buildCtx, state, instr); err != nil {
			return types.Image{}, err
		}
	}

	var totalSize int64
	for _, l := range state.layers {
		totalSize += l.Size
	}

	image := types.Image{
		ID:        imageConfigDigest(state.config),
		Digest:    imageConfigDigest(state.config),
		TotalSize: totalSize,
		CreatedAt: time.Now(),
		Layers:    state.layers,
		Config:    state.config,
	}

	repo, imgTag := splitRepoTag(tag)
	if err := b.images.Add(image, repo, imgTag); err != nil {
		return types.Image{}, err
	}
	return image, nil
}

// apply executes one instruction. FROM seeds the layer list and config
// from the resolved base image; every other instruction goes through
// the content-hash cache before falling back to direct execution.
func (b *Builder) apply(ctx context.Context, buildCtx *Context, state *buildState, instr types.BuildInstruction) error {
	if instr.Kind == types.InstrFrom {
		return b.applyFrom(ctx, state, instr)
	}
	if instr.Kind == types.InstrComment {
		return nil
	}

	contextBytes, err := relevantContextBytes(buildCtx, instr)
	if err != nil {
		return err
	}
	contentHash := buildcache.ContentHash(instr.Raw, contextBytes)

	applyDerivedToConfig(state, instr)

	if entry, hit := b.cache.Lookup(contentHash); hit {
		if entry.LayerID != "" {
			state.layers = append(state.layers, types.Layer{
				Digest:    "sha256:" + entry.LayerID,
				Size:      int64(entry.Size),
				MediaType: "application/vnd.polis.layer.v1.tar",
			})
		}
		return nil
	}

	if !producesLayer(instr.Kind) {
		if _, err := b.cache.Put(instr.Raw, contentHash, "", 0); err != nil {
			return err
		}
		return nil
	}

	layer, blob, err := executeLayerInstruction(buildCtx, instr)
	if err != nil {
		return err
	}

	layerID := digest.FromBytes(blob).Encoded()
	if err := b.images.WriteLayerBlob("sha256:"+layerID, blob); err != nil {
		return err
	}
	if _, err := b.cache.Put(instr.Raw, contentHash, layerID, uint64(len(blob))); err != nil {
		return err
	}

	layer.Digest = "sha256:" + layerID
	layer.Size = int64(len(blob))
	state.layers = append(state.layers, layer)
	return nil
}

func (b *Builder) applyFrom(ctx context.Context, state *buildState, instr types.BuildInstruction) error {
	if len(instr.Args) == 0 {
		return types.NewValidationError("builder: FROM requires an image argument")
	}
	ref := instr.Args[0]
	if ref == "scratch" {
		return nil
	}

	base, err := b.images.Get(ref)
	if err != nil {
		base, err = b.images.Pull(ctx, ref)
		if err != nil {
			return err
		}
	}

	state.layers = append(state.layers, base.Layers...)
	state.config = base.Config
	if state.config.Env == nil {
		state.config.Env = map[string]string{}
	}
	if state.config.Labels == nil {
		state.config.Labels = map[string]string{}
	}
	return nil
}

// producesLayer reports whether an instruction's execution yields a
// new filesystem layer, as opposed to only updating derived config.
func producesLayer(kind types.BuildInstructionKind) bool {
	switch kind {
	case types.InstrRun, types.InstrAdd, types.InstrCopy:
		return true
	default:
		return false
	}
}

// relevantContextBytes returns the bytes a content hash should cover
// beyond the instruction text itself: the source file contents for
// ADD/COPY, nothing for every other instruction (so identical
// metadata-only instructions always hash identically, matching the
// build-cache-hit behavior of two consecutive builds of the same
// recipe).
func relevantContextBytes(buildCtx *Context, instr types.BuildInstruction) ([]byte, error) {
	switch instr.Kind {
	case types.InstrAdd, types.InstrCopy:
		if len(instr.Args) < 1 {
			return nil, types.NewValidationError(fmt.Sprintf("builder: line %d: %s requires <src> <dst>", instr.Line, instr.Raw))
		}
		src := instr.Args[0]
		abs, ok := buildCtx.Files[src]
		if !ok {
			return nil, types.NewNotFoundError(fmt.Sprintf("builder: line %d: source %q not found in context", instr.Line, src))
		}
		return os.ReadFile(abs)
	default:
		return nil, nil
	}
}

// executeLayerInstruction produces the tar blob for a layer-producing
// instruction. RUN has no sandboxed execution environment here, so its
// layer records the command that ran; ADD/COPY copy the named context
// file into the layer under its destination path.
func executeLayerInstruction(buildCtx *Context, instr types.BuildInstruction) (types.Layer, []byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	switch instr.Kind {
	case types.InstrRun:
		body := []byte(fmt.Sprintf("%s\n", instr.Raw))
		if err := writeTarEntry(tw, ".polis-run-step", body); err != nil {
			return types.Layer{}, nil, err
		}
	case types.InstrAdd, types.InstrCopy:
		if len(instr.Args) < 2 {
			return types.Layer{}, nil, types.NewValidationError(fmt.Sprintf("builder: line %d: %s requires <src> <dst>", instr.Line, instr.Raw))
		}
		src, dst := instr.Args[0], instr.Args[1]
		abs, ok := buildCtx.Files[src]
		if !ok {
			return types.Layer{}, nil, types.NewNotFoundError(fmt.Sprintf("builder: line %d: source %q not found in context", instr.Line, src))
		}
		body, err := os.ReadFile(abs)
		if err != nil {
			return types.Layer{}, nil, types.NewIOError("builder: read source file", err)
		}
		if err := writeTarEntry(tw, dst, body); err != nil {
			return types.Layer{}, nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return types.Layer{}, nil, types.NewIOError("builder: finalize layer tar", err)
	}
	return types.Layer{MediaType: "application/vnd.polis.layer.v1.tar"}, buf.Bytes(), nil
}

func writeTarEntry(tw *tar.Writer, name string, body []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(body)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return types.NewIOError("builder: write layer tar header", err)
	}
	if _, err := tw.Write(body); err != nil {
		return types.NewIOError("builder: write layer tar body", err)
	}
	return nil
}

// applyDerivedToConfig folds one instruction's effect into the
// accumulating ImageConfig, mirroring the BuildRecipe derived-field
// accumulation recipe.go performs while parsing.
func applyDerivedToConfig(state *buildState, instr types.BuildInstruction) {
	switch instr.Kind {
	case types.InstrCmd:
		state.config.Cmd = instr.Args
	case types.InstrEntrypoint:
		state.config.Entrypoint = instr.Args
	case types.InstrEnv:
		for _, kv := range instr.Args {
			if k, v, ok := strings.Cut(kv, "="); ok {
				state.config.Env[k] = v
			}
		}
	case types.InstrLabel:
		for _, kv := range instr.Args {
			if k, v, ok := strings.Cut(kv, "="); ok {
				state.config.Labels[k] = v
			}
		}
	case types.InstrExpose:
		// derived in recipe.go; here we mirror it onto the config.
		for _, portStr := range instr.Args {
			if pm, ok := parsePortMapping(portStr); ok {
				state.config.ExposedPorts = append(state.config.ExposedPorts, pm)
			}
		}
	case types.InstrVolume:
		state.config.Volumes = append(state.config.Volumes, instr.Args...)
	case types.InstrUser:
		if len(instr.Args) > 0 {
			state.config.User = instr.Args[0]
		}
	case types.InstrWorkdir:
		if len(instr.Args) > 0 {
			state.config.WorkingDir = instr.Args[0]
		}
	case types.InstrStopSignal:
		if len(instr.Args) > 0 {
			state.config.StopSignal = instr.Args[0]
		}
	case types.InstrShell:
		state.config.Shell = instr.Args
	case types.InstrHealthcheck:
		state.config.Healthcheck = &types.HealthcheckSpec{Command: instr.Args}
	}
}

func parsePortMapping(portStr string) (types.PortMapping, bool) {
	numStr, proto, hasProto := strings.Cut(portStr, "/")
	protocol := types.ProtocolTCP
	if hasProto && strings.EqualFold(proto, "udp") {
		protocol = types.ProtocolUDP
	}
	port, err := strconv.Atoi(numStr)
	if err != nil || port == 0 {
		return types.PortMapping{}, false
	}
	return types.PortMapping{ContainerPort: port, Protocol: protocol}, true
}

func imageConfigDigest(config types.ImageConfig) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%+v", config)
	return "sha256:" + digest.FromBytes(buf.Bytes()).Encoded()
}

func splitRepoTag(tag string) (string, string) {
	if idx := strings.LastIndexByte(tag, ':'); idx >= 0 {
		return tag[:idx], tag[idx+1:]
	}
	return tag, "latest"
}
