// Package logparser implements capability.LogParser over plain stdlib
// file I/O and line scanning — no log-parsing library appears anywhere
// in the example pack, so this is one of the few components grounded
// directly on the standard library rather than a third-party dependency.
package logparser

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

var (
	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	errorPattern     = regexp.MustCompile(`(?i)\b(error|exception|panic|fatal)\b`)
)

// knownPatterns are substrings that, when seen in an error line, are
// surfaced as a recognized incident pattern rather than a raw line.
var knownPatterns = []string{
	"connection refused",
	"timeout",
	"out of memory",
	"deadlock",
	"permission denied",
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

// Parse implements capability.LogParser.
func (p *Parser) Parse(ctx context.Context, path string) (capability.LogAnalysis, error) {
	file, err := os.Open(path)
	if err != nil {
		return capability.LogAnalysis{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "open log file")
	}
	defer file.Close()

	var analysis capability.LogAnalysis
	seenPatterns := map[string]bool{}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return capability.LogAnalysis{}, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !errorPattern.MatchString(line) {
			continue
		}

		analysis.ErrorsFound++
		if timestampPattern.MatchString(line) {
			analysis.Timeline = append(analysis.Timeline, line[:19])
		}

		lower := strings.ToLower(line)
		for _, pattern := range knownPatterns {
			if strings.Contains(lower, pattern) && !seenPatterns[pattern] {
				seenPatterns[pattern] = true
				analysis.Patterns = append(analysis.Patterns, pattern)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return capability.LogAnalysis{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "scan log file")
	}

	return analysis, nil
}
