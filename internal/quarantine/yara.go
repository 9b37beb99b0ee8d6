package quarantine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
)

// YARAMatch is one rule hit against a scanned file.
type YARAMatch struct {
	RuleName string
	Tags     []string
	Meta     map[string]string
}

// YARAStage shells out to a yara/yara64 CLI binary rather than binding the
// library directly — there is no YARA Go binding anywhere in this tree's
// dependency surface, the same gap that makes gpuinfo shell out to
// nvidia-smi. Mirrors the probe-then-degrade shape of a dual-engine
// loader: if no binary is found, the stage reports unavailable instead of
// holding every file.
type YARAStage struct {
	rulesDir string

	mu       sync.Mutex
	resolved bool
	binary   string // empty once resolved means "not found"
}

func NewYARAStage(rulesDir, preferredBinary string) *YARAStage {
	s := &YARAStage{rulesDir: rulesDir}
	if preferredBinary != "" {
		s.binary = preferredBinary
		s.resolved = true
		if _, err := exec.LookPath(preferredBinary); err != nil {
			s.binary = ""
		}
	}
	return s
}

func (s *YARAStage) Name() string { return domain.StageYARA }

func (s *YARAStage) resolveBinary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return s.binary
	}
	s.resolved = true
	for _, candidate := range []string{"yara", "yara64"} {
		if _, err := exec.LookPath(candidate); err == nil {
			s.binary = candidate
			return s.binary
		}
	}
	s.binary = ""
	return ""
}

func (s *YARAStage) Scan(ctx context.Context, path, originalFilename string, cfg config.QuarantineConfig) (StageResult, error) {
	binary := s.resolveBinary()
	if binary == "" {
		return StageResult{Passed: true, Findings: []domain.Finding{{
			Stage:    s.Name(),
			Severity: domain.SeverityNone,
			Code:     "unavailable",
			Message:  "no yara engine found on this host; rule scan skipped",
		}}}, nil
	}

	rules, err := filepath.Glob(filepath.Join(s.rulesDir, "*.yar"))
	if err != nil {
		return StageResult{}, err
	}
	yaraRules, err := filepath.Glob(filepath.Join(s.rulesDir, "*.yara"))
	if err != nil {
		return StageResult{}, err
	}
	rules = append(rules, yaraRules...)
	if len(rules) == 0 {
		return StageResult{Passed: true, Findings: []domain.Finding{{
			Stage:    s.Name(),
			Severity: domain.SeverityNone,
			Code:     "unavailable",
			Message:  "no rule files installed",
		}}}, nil
	}

	matches, err := s.runYara(ctx, binary, rules, path)
	if err != nil {
		return holdResult(domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityMedium,
			Code:     "scan_error",
			Message:  err.Error(),
		}), nil
	}
	if len(matches) == 0 {
		return passResult(), nil
	}

	findings := make([]domain.Finding, 0, len(matches))
	for _, m := range matches {
		findings = append(findings, domain.Finding{
			Stage:    s.Name(),
			Severity: domain.SeverityHigh,
			Code:     "rule_match",
			Message:  fmt.Sprintf("matched rule %q", m.RuleName),
			Details:  map[string]any{"rule_name": m.RuleName, "tags": m.Tags, "meta": m.Meta},
		})
	}
	return StageResult{Passed: false, Findings: findings}, nil
}

// runYara invokes `yara -g -m <rule1> -g -m <rule2> ... <path>`, one
// -g/-m pair per rule file, and parses "rulename [tag,tag] meta path" lines.
func (s *YARAStage) runYara(ctx context.Context, binary string, rules []string, path string) ([]YARAMatch, error) {
	args := []string{}
	for _, r := range rules {
		args = append(args, "-g", "-m", r)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// exit code 1 is yara's "rule compile/load error", not "match found
		// nothing"; any other run failure (binary missing mid-flight, etc)
		// is treated the same way.
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("yara: %s", strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("yara: %w", err)
	}

	var matches []YARAMatch
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		matches = append(matches, parseYaraLine(line))
	}
	return matches, scanner.Err()
}

// parseYaraLine parses one line of `yara -g -m` output:
// rulename [tag1,tag2] [key=value,key2=value2] /path/to/file
func parseYaraLine(line string) YARAMatch {
	fields := strings.SplitN(line, " ", 2)
	m := YARAMatch{RuleName: fields[0], Meta: map[string]string{}}
	if len(fields) < 2 {
		return m
	}
	rest := fields[1]
	for _, bracketed := range extractBrackets(rest) {
		if strings.Contains(bracketed, "=") {
			for _, kv := range strings.Split(bracketed, ",") {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) == 2 {
					m.Meta[parts[0]] = parts[1]
				}
			}
		} else if bracketed != "" {
			m.Tags = strings.Split(bracketed, ",")
		}
	}
	return m
}

func extractBrackets(s string) []string {
	var out []string
	for {
		start := strings.Index(s, "[")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "]")
		if end == -1 {
			break
		}
		out = append(out, s[start+1:start+end])
		s = s[start+end+1:]
	}
	return out
}
