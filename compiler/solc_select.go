package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// SolcSelect finds solc binaries installed by solc-select or py-solc-x and
// installs missing versions through solc-select.
type SolcSelect struct {
	// Bin is the solc-select executable
	Bin string
	// ArtifactsDir is solc-select's artifacts folder, ~/.solc-select/artifacts
	ArtifactsDir string
	// SolcxDir is py-solc-x's install folder, ~/.solcx
	SolcxDir string

	log log.Logger
}

func NewSolcSelect(logger log.Logger) *SolcSelect {
	s := &SolcSelect{Bin: "solc-select", log: logger}
	if home, err := os.UserHomeDir(); err == nil {
		s.ArtifactsDir = filepath.Join(home, ".solc-select", "artifacts")
		s.SolcxDir = filepath.Join(home, ".solcx")
	}
	return s
}

// Resolve returns the path of an installed solc binary for version,
// installing it with solc-select when no copy is found.
func (s *SolcSelect) Resolve(ctx context.Context, version *semver.Version) (string, error) {
	if path, ok := s.installed(version); ok {
		return path, nil
	}

	bin, err := exec.LookPath(s.Bin)
	if err != nil {
		return "", errors.Wrapf(err, "solc %s is not installed and solc-select is unavailable", version)
	}
	s.log.Info("installing solc", "version", version)
	out, err := exec.CommandContext(ctx, bin, "install", version.String()).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "solc-select install %s: %s", version, strings.TrimSpace(string(out)))
	}

	if path, ok := s.installed(version); ok {
		return path, nil
	}
	return "", fmt.Errorf("solc-select installed %s but no binary was found under %s", version, s.ArtifactsDir)
}

func (s *SolcSelect) installed(version *semver.Version) (string, bool) {
	v := version.String()
	var candidates []string
	if s.ArtifactsDir != "" {
		candidates = append(candidates,
			filepath.Join(s.ArtifactsDir, "solc-"+v, "solc-"+v),
			filepath.Join(s.ArtifactsDir, "solc-"+v),
		)
	}
	if s.SolcxDir != "" {
		candidates = append(candidates,
			filepath.Join(s.SolcxDir, "solc-v"+v),
			filepath.Join(s.SolcxDir, "solc-v"+v, "solc"),
		)
	}
	for _, path := range candidates {
		if isExecutable(path) {
			return path, true
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode()&0o111 != 0
}

// PragmaVersion picks the solc release to install for a pragma: the highest
// version named in it that also satisfies it.
func PragmaVersion(pragma string, constraint *semver.Constraints) (*semver.Version, error) {
	var versions []*semver.Version
	for _, raw := range versionRegexp.FindAllString(pragma, -1) {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].GreaterThan(versions[j])
	})
	for _, v := range versions {
		if constraint.Check(v) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no solc release named in pragma %q satisfies it", pragma)
}
