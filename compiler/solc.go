package compiler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/DQYXACML/minifuzz/common/errs"
)

const defaultOptimizeRuns = 200

var (
	pragmaRegexp  = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	versionRegexp = regexp.MustCompile(`\d+\.\d+\.\d+`)
	operatorOnly  = regexp.MustCompile(`^[<>=^~!]+$`)
	zeroCaret     = regexp.MustCompile(`^\^0\.(\d+)\.(\d+)$`)
)

// Output is the compiled artifact of the contract under test
type Output struct {
	ContractName string
	ABI          *abi.ABI
	Bytecode     []byte
	AST          *SourceUnit
	SolcVersion  *semver.Version
}

type Compiler struct {
	solcPath     string
	optimizeRuns int
	selector     *SolcSelect
	log          log.Logger
}

type Option func(*Compiler)

// WithSolcSelect replaces the default solc-select lookup. nil disables it.
func WithSolcSelect(selector *SolcSelect) Option {
	return func(c *Compiler) {
		c.selector = selector
	}
}

func NewCompiler(solcPath string, logger log.Logger, opts ...Option) *Compiler {
	if solcPath == "" {
		solcPath = "solc"
	}
	c := &Compiler{
		solcPath:     solcPath,
		optimizeRuns: defaultOptimizeRuns,
		selector:     NewSolcSelect(logger),
		log:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles the Solidity source at path and returns the artifacts of
// the deployable contract. The configured solc is used when it satisfies the
// source's pragma; otherwise a matching release is found or installed
// through solc-select.
func (c *Compiler) Compile(ctx context.Context, path string) (*Output, error) {
	c.log.Info("compiling contract", "path", path)

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeCompile, "read contract source", err).AddContext("path", path)
	}

	constraint, pragma, err := ExtractPragma(string(source))
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeCompile, "solidity version could not be determined", err).AddContext("path", path)
	}

	solcPath, version, err := c.selectSolc(ctx, constraint, pragma)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeCompile, "no solc satisfies the pragma", err).
			AddContext("pragma", pragma)
	}

	cmd := exec.CommandContext(ctx, solcPath,
		"--combined-json", "abi,bin,ast",
		"--optimize", "--optimize-runs", strconv.Itoa(c.optimizeRuns),
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errs.WrapError(errs.ErrorTypeCompile, "solc failed", err).AddContext("stderr", stderr.String())
	}
	if stderr.Len() > 0 {
		c.log.Warn("solc reported warnings", "output", strings.TrimSpace(stderr.String()))
	}

	output, err := ParseCombinedJSON(stdout.Bytes(), path)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeCompile, "parse solc output", err)
	}
	output.SolcVersion = version

	c.log.Info("compiled contract", "contract", output.ContractName, "solc", version, "bytecode", len(output.Bytecode))
	return output, nil
}

// selectSolc returns the binary to compile with and its version
func (c *Compiler) selectSolc(ctx context.Context, constraint *semver.Constraints, pragma string) (string, *semver.Version, error) {
	version, err := c.SolcVersion(ctx)
	switch {
	case err == nil && constraint.Check(version):
		return c.solcPath, version, nil
	case err != nil:
		c.log.Warn("configured solc is unavailable", "solc", c.solcPath, "err", err)
	default:
		c.log.Info("configured solc does not satisfy pragma", "solc", c.solcPath, "version", version, "pragma", pragma)
	}

	if c.selector == nil {
		if err != nil {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("installed solc %s does not satisfy pragma %q", version, pragma)
	}
	want, err := PragmaVersion(pragma, constraint)
	if err != nil {
		return "", nil, err
	}
	path, err := c.selector.Resolve(ctx, want)
	if err != nil {
		return "", nil, err
	}
	got, err := solcVersionAt(ctx, path)
	if err != nil {
		return "", nil, err
	}
	if !constraint.Check(got) {
		return "", nil, fmt.Errorf("%s reports version %s, which does not satisfy pragma %q", path, got, pragma)
	}
	c.log.Info("using solc for pragma", "solc", path, "version", got)
	return path, got, nil
}

// SolcVersion runs `solc --version` and parses the reported version
func (c *Compiler) SolcVersion(ctx context.Context) (*semver.Version, error) {
	return solcVersionAt(ctx, c.solcPath)
}

func solcVersionAt(ctx context.Context, solcPath string) (*semver.Version, error) {
	out, err := exec.CommandContext(ctx, solcPath, "--version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("error while executing %s --version: %w: %s", solcPath, err, out)
	}
	versionStr := versionRegexp.FindString(string(out))
	if versionStr == "" {
		return nil, fmt.Errorf("could not parse solc version from %q", strings.TrimSpace(string(out)))
	}
	return semver.NewVersion(versionStr)
}

// ExtractPragma returns the version constraint of the first
// `pragma solidity` directive together with its raw text.
func ExtractPragma(source string) (*semver.Constraints, string, error) {
	match := pragmaRegexp.FindStringSubmatch(source)
	if match == nil {
		return nil, "", errors.New("no pragma solidity directive found")
	}
	pragma := strings.TrimSpace(match[1])
	constraint, err := semver.NewConstraint(normalizeConstraint(pragma))
	if err != nil {
		return nil, pragma, errors.Wrapf(err, "invalid pragma %q", pragma)
	}
	return constraint, pragma, nil
}

// normalizeConstraint rewrites a Solidity version expression into the
// comma separated form understood by semver. Solidity separates AND terms
// with whitespace and allows a space between operator and version.
func normalizeConstraint(expr string) string {
	alternatives := strings.Split(expr, "||")
	for i, alternative := range alternatives {
		var terms []string
		pending := ""
		for _, field := range strings.Fields(alternative) {
			if operatorOnly.MatchString(field) {
				pending += field
				continue
			}
			terms = append(terms, expandZeroCaret(pending+field))
			pending = ""
		}
		alternatives[i] = strings.Join(terms, ", ")
	}
	return strings.Join(alternatives, " || ")
}

// expandZeroCaret gives ^0.x.y the Solidity meaning, >=0.x.y <0.(x+1).0.
func expandZeroCaret(term string) string {
	match := zeroCaret.FindStringSubmatch(term)
	if match == nil {
		return term
	}
	minor, _ := strconv.Atoi(match[1])
	return fmt.Sprintf(">=0.%s.%s, <0.%d.0", match[1], match[2], minor+1)
}

type combinedContract struct {
	Abi json.RawMessage `json:"abi"`
	Bin string          `json:"bin"`
}

type combinedSource struct {
	AST json.RawMessage `json:"AST"`
}

type combinedOutput struct {
	Contracts  map[string]combinedContract `json:"contracts"`
	Sources    map[string]combinedSource   `json:"sources"`
	SourceList []string                    `json:"sourceList"`
	Version    string                      `json:"version"`
}

// ParseCombinedJSON decodes `solc --combined-json abi,bin,ast` output and
// selects the contract to fuzz: the last non-abstract contract of the target
// source that has creation bytecode.
func ParseCombinedJSON(data []byte, target string) (*Output, error) {
	var out combinedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "decode combined json")
	}
	if len(out.Sources) == 0 {
		return nil, errors.New("solc output contains no sources")
	}

	sourcePath := targetSource(out, target)
	var ast SourceUnit
	if err := json.Unmarshal(out.Sources[sourcePath].AST, &ast); err != nil {
		return nil, errors.Wrapf(err, "decode AST of %s", sourcePath)
	}

	contracts := ast.Contracts()
	for i := len(contracts) - 1; i >= 0; i-- {
		definition := contracts[i]
		if definition.Kind != ContractKindContract || definition.Abstract {
			continue
		}
		compiled, ok := out.Contracts[sourcePath+":"+definition.Name]
		if !ok || compiled.Bin == "" {
			continue
		}

		contractABI, err := parseABI(compiled.Abi)
		if err != nil {
			return nil, errors.Wrapf(err, "parse ABI of %s", definition.Name)
		}
		bytecode, err := hex.DecodeString(strings.TrimPrefix(compiled.Bin, "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "decode bytecode of %s", definition.Name)
		}
		return &Output{
			ContractName: definition.Name,
			ABI:          contractABI,
			Bytecode:     bytecode,
			AST:          &ast,
		}, nil
	}
	return nil, fmt.Errorf("no deployable contract found in %s", sourcePath)
}

func targetSource(out combinedOutput, target string) string {
	if _, ok := out.Sources[target]; ok {
		return target
	}
	for path := range out.Sources {
		if target != "" && (strings.HasSuffix(path, "/"+target) || strings.HasSuffix(target, "/"+path)) {
			return path
		}
	}
	for _, path := range out.SourceList {
		if _, ok := out.Sources[path]; ok {
			return path
		}
	}
	first := ""
	for path := range out.Sources {
		if first == "" || path < first {
			first = path
		}
	}
	return first
}

// parseABI accepts both the JSON array emitted by recent solc releases and
// the JSON encoded string emitted by older ones.
func parseABI(raw json.RawMessage) (*abi.ABI, error) {
	definition := []byte(raw)
	if len(definition) > 0 && definition[0] == '"' {
		var s string
		if err := json.Unmarshal(definition, &s); err != nil {
			return nil, err
		}
		definition = []byte(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(definition))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
