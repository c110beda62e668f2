package runner

import (
	"regexp"
	"strings"
)

// Classification is what the interpreter concluded from captured output.
type Classification string

const (
	// ClassWorking means the session is making progress; keep polling.
	ClassWorking Classification = "working"
	// ClassComplete means the session declared its node finished.
	ClassComplete Classification = "complete"
	// ClassNeedsInput means the session asked a question it cannot answer alone.
	ClassNeedsInput Classification = "needs_input"
	// ClassNeedsReview means the session requested a review of its work.
	ClassNeedsReview Classification = "needs_review"
	// ClassViolation means the session reported breaking a constraint.
	ClassViolation Classification = "violation"
)

// Observation is one classified capture.
type Observation struct {
	Classification Classification
	// Detail carries the matched text, e.g. the question being asked.
	Detail string
}

// ObservationInterpreter turns captured terminal text into a classification.
// Implementations may be heuristic (regex) or model-backed; the Monitor's
// state machine is identical either way.
type ObservationInterpreter interface {
	Interpret(output string) Observation
}

// Rule pairs a pattern with the classification it implies.
type Rule struct {
	Pattern *regexp.Regexp
	Class   Classification
}

// RegexInterpreter classifies output with an ordered rule list; the first
// matching rule wins, scanning from the newest output backwards.
type RegexInterpreter struct {
	rules []Rule
	// tailLines bounds how much of the capture is inspected; markers always
	// appear near the end of the session's output.
	tailLines int
}

// DefaultRules matches the markers the prompt scaffolding instructs agent
// sessions to emit.
func DefaultRules() []Rule {
	// The first capture group carries the text after the marker, e.g. the
	// question an agent is asking.
	return []Rule{
		{regexp.MustCompile(`(?m)^\s*ATTRACTOR:NODE_COMPLETE\b[ \t]*(.*)$`), ClassComplete},
		{regexp.MustCompile(`(?m)^\s*ATTRACTOR:NEEDS_INPUT\b[ \t]*(.*)$`), ClassNeedsInput},
		{regexp.MustCompile(`(?m)^\s*ATTRACTOR:NEEDS_REVIEW\b[ \t]*(.*)$`), ClassNeedsReview},
		{regexp.MustCompile(`(?m)^\s*ATTRACTOR:VIOLATION\b[ \t]*(.*)$`), ClassViolation},
		// Fallbacks for sessions that answer in prose.
		{regexp.MustCompile(`(?im)^.*all acceptance criteria (?:are )?met.*$`), ClassComplete},
		{regexp.MustCompile(`(?im)^.*(?:waiting for|need) (?:your |human )?(?:input|answer|decision).*$`), ClassNeedsInput},
	}
}

// NewRegexInterpreter builds an interpreter; with no rules it uses DefaultRules.
func NewRegexInterpreter(rules ...Rule) *RegexInterpreter {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RegexInterpreter{rules: rules, tailLines: 200}
}

func (ri *RegexInterpreter) Interpret(output string) Observation {
	tail := lastLines(output, ri.tailLines)
	for _, r := range ri.rules {
		m := r.Pattern.FindStringSubmatch(tail)
		if m == nil {
			continue
		}
		detail := strings.TrimSpace(m[0])
		// Prefer the trailing capture; a bare marker keeps the whole line.
		if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			detail = strings.TrimSpace(m[1])
		}
		return Observation{
			Classification: r.Class,
			Detail:         detail,
		}
	}
	return Observation{Classification: ClassWorking}
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
