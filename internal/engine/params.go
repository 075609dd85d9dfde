package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/teelo/teelo/internal/model"
	"github.com/teelo/teelo/internal/store"
)

// ResolveParameterSet pins the parameters for a run. spec is "", "name" or
// "name@vN": empty resolves to the active set (built-in defaults when none
// has ever been activated), a name resolves to its latest version, and a
// pinned version resolves exactly. Pinning a set that is not active yields a
// candidate tag so snapshot provenance records the experiment.
func ResolveParameterSet(ctx context.Context, st store.Store, spec string) (model.Params, string, error) {
	if spec == "" {
		active, err := st.ActiveParameterSet(ctx)
		if err != nil {
			return model.Params{}, "", eris.Wrapf(ErrPersistence, "resolve active parameter set: %v", err)
		}
		if active == nil {
			return model.DefaultParams(), model.DefaultParamsVersion, nil
		}
		return active.Params, active.VersionTag(), nil
	}

	name, version, err := parseParamsSpec(spec)
	if err != nil {
		return model.Params{}, "", err
	}
	ps, err := st.GetParameterSet(ctx, name, version)
	if err != nil {
		return model.Params{}, "", eris.Wrapf(ErrConfiguration, "parameter set %q: %v", spec, err)
	}
	tag := ps.VersionTag()
	if !ps.IsActive {
		tag = ps.CandidateTag()
	}
	return ps.Params, tag, nil
}

// parseParamsSpec splits "name@vN" into name and version. A bare name means
// version 0, which the store resolves to the latest.
func parseParamsSpec(spec string) (string, int, error) {
	name, ver, found := strings.Cut(spec, "@")
	if !found {
		return spec, 0, nil
	}
	if name == "" || !strings.HasPrefix(ver, "v") {
		return "", 0, eris.Wrapf(ErrConfiguration, "malformed parameter spec %q, want name[@vN]", spec)
	}
	n, err := strconv.Atoi(ver[1:])
	if err != nil || n <= 0 {
		return "", 0, eris.Wrapf(ErrConfiguration, "malformed parameter version in %q", spec)
	}
	return name, n, nil
}
