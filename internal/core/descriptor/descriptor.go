// Package descriptor detects how a local project is built and run: a direct
// Dockerfile build or a compose stack. Detection is the last purely local
// stage of a deployment, so a missing or invalid descriptor stops the run
// before any remote connection is opened.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoDescriptor is returned when the project contains neither a
	// Dockerfile nor a compose file.
	ErrNoDescriptor = errors.New("no Dockerfile or compose file found in project")
)

// InvalidDescriptorError is returned when a compose file exists but fails to
// parse or validate.
type InvalidDescriptorError struct {
	Path string
	Err  error
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid compose file %s: %v", e.Path, e.Err)
}

func (e *InvalidDescriptorError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Descriptor
// =============================================================================

// Kind is the two-variant tag that drives which remote command set the
// orchestrator runs.
type Kind string

const (
	KindDirectBuild Kind = "direct-build"
	KindCompose     Kind = "compose"
)

// Descriptor describes the detected build mechanism for a project.
type Descriptor struct {
	Kind Kind
	// Path is the descriptor file name relative to the project root.
	Path string
	// Services lists compose service names; empty for direct builds.
	Services []string
	// PublishedPort is the first host port a compose service publishes,
	// zero when none is declared. Used for diagnostics only.
	PublishedPort int
}

// composeFileNames are checked in order; the first match wins.
var composeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
}

// Detect inspects dir and returns the build descriptor. Compose is preferred
// over a bare Dockerfile when both exist, since the compose file describes
// the whole stack.
func Detect(dir string) (*Descriptor, error) {
	for _, name := range composeFileNames {
		p := filepath.Join(dir, name)
		content, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		d, err := parseCompose(name, content)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		return &Descriptor{Kind: KindDirectBuild, Path: "Dockerfile"}, nil
	}

	return nil, ErrNoDescriptor
}

// parseCompose loads and validates compose content using compose-go.
// A compose file that cannot be loaded is a terminal validation failure.
func parseCompose(name string, content []byte) (*Descriptor, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, &InvalidDescriptorError{Path: name, Err: err}
	}
	if dict == nil {
		return nil, &InvalidDescriptorError{Path: name, Err: errors.New("empty document")}
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{Filename: name, Content: content, Config: dict},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("dockhand-preflight", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true // env interpolation happens on the remote host
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, &InvalidDescriptorError{Path: name, Err: err}
	}
	if len(project.Services) == 0 {
		return nil, &InvalidDescriptorError{Path: name, Err: errors.New("compose file declares no services")}
	}

	d := &Descriptor{Kind: KindCompose, Path: name}
	for svcName, svc := range project.Services {
		d.Services = append(d.Services, svcName)
		if d.PublishedPort == 0 {
			for _, port := range svc.Ports {
				if published := strings.TrimSpace(port.Published); published != "" {
					d.PublishedPort = atoiSafe(published)
					break
				}
			}
		}
	}
	sort.Strings(d.Services)
	return d, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
