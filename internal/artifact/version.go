package artifact

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/module"
)

// VersionHeader describes a procedural header carrying version information.
type VersionHeader struct {
	// Output is the path template of the generated header.
	Output string
	// Prefix names the generated version macros, e.g. "TBB" yields
	// TBB_VERSION_MAJOR. It is only used when Version is set.
	Prefix string
	// Version is an optional semantic version.
	Version string
	// Body is appended verbatim after the version macros.
	Body string
}

// Content renders the header text.
func (h VersionHeader) Content() (string, error) {
	var b strings.Builder
	if h.Version != "" {
		v, err := semver.NewVersion(h.Version)
		if err != nil {
			return "", fmt.Errorf("%w: invalid version %q: %w", errkind.ErrConfiguration, h.Version, err)
		}
		prefix := strings.ToUpper(h.Prefix)
		if prefix != "" {
			prefix += "_"
		}
		fmt.Fprintf(&b, "#define %sVERSION_MAJOR %d\n", prefix, v.Major())
		fmt.Fprintf(&b, "#define %sVERSION_MINOR %d\n", prefix, v.Minor())
		fmt.Fprintf(&b, "#define %sVERSION_PATCH %d\n", prefix, v.Patch())
		fmt.Fprintf(&b, "#define %sVERSION_STRING %q\n", prefix, v.String())
	}
	body := h.Body
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	b.WriteString(body)
	return b.String(), nil
}

// Strategy makes a procedural header module generate h. The version is
// validated while the graph is constructed.
func (h VersionHeader) Strategy() module.Strategy {
	generate := module.Generate(module.OutputHeader, h.Output, h.Content)
	return func(ctx module.Context, m *module.Module) error {
		if _, err := h.Content(); err != nil {
			return fmt.Errorf("version header %s: %w", m.ID(), err)
		}
		return generate(ctx, m)
	}
}
