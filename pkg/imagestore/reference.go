package imagestore

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/polisproject/polisd/pkg/types"
)

// ParseImageRef splits a user-supplied image string into the
// (registry, repository, tag|digest) triple of types.ImageRef, defaulting an
// unqualified name to docker.io and an untagged name to latest the
// same way `docker pull` does.
func ParseImageRef(s string) (types.ImageRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return types.ImageRef{}, types.NewValidationError(fmt.Sprintf("imagestore: invalid image reference %q: %v", s, err))
	}

	ref := types.ImageRef{
		Registry:   reference.Domain(named),
		Repository: reference.Path(named),
	}

	switch v := named.(type) {
	case reference.Canonical:
		ref.Digest = v.Digest().String()
	case reference.NamedTagged:
		ref.Tag = v.Tag()
	default:
		ref.Tag = "latest"
	}
	return ref, nil
}
