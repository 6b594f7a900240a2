// Package approval holds the per-connection shell approval state and the
// policy that decides when a command may run without asking the user.
package approval

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Decision is the user's answer to one shell approval prompt.
type Decision string

const (
	Approve    Decision = "approve"
	ApproveAll Decision = "approve_all"
	Deny       Decision = "deny"
)

// Approved reports whether the command may run.
func (d Decision) Approved() bool { return d == Approve || d == ApproveAll }

// EscalatesSession reports whether the decision approves every later command
// for the rest of the connection.
func (d Decision) EscalatesSession() bool { return d == ApproveAll }

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case Approve, ApproveAll, Deny:
		return true
	}
	return false
}

// FromFlags maps the wire booleans of a shell_approval_response to a Decision.
func FromFlags(approved, approveAll bool) Decision {
	switch {
	case approved && approveAll:
		return ApproveAll
	case approved:
		return Approve
	default:
		return Deny
	}
}

// Parse reads a decision typed or clicked in a panel. Unknown input yields
// false.
func Parse(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "a", "y", "yes", "once":
		return Approve, true
	case "approve_all", "approve-all", "all", "always":
		return ApproveAll, true
	case "deny", "d", "n", "no", "reject":
		return Deny, true
	}
	return "", false
}

// Session is the approval state of one backend connection. A new connection
// gets a new Session, so nothing carries over a restart.
type Session struct {
	mu         sync.Mutex
	approveAll bool
	remembered map[string]Decision
}

func NewSession() *Session {
	return &Session{remembered: make(map[string]Decision)}
}

// ApproveAllShellCommands reports whether the user escalated this session.
func (s *Session) ApproveAllShellCommands() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approveAll
}

// Apply records a decision. Only ApproveAll changes the session-wide flag;
// every decision is remembered for its command when one is given.
func (s *Session) Apply(command string, d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.EscalatesSession() {
		s.approveAll = true
	}
	if command != "" {
		s.remembered[command] = d
	}
}

// Remembered returns the earlier decision for an identical command.
func (s *Session) Remembered(command string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.remembered[command]
	return d, ok
}

// Policy lists commands that are approved without prompting. Patterns are
// regular expressions that must match the whole command line, so "git status"
// does not approve "git status && rm -rf ~". A pattern that does not compile
// is compared literally.
type Policy struct {
	patterns []pattern
}

type pattern struct {
	raw string
	re  *regexp.Regexp
}

// NewPolicy compiles the auto-approve patterns. Invalid patterns are logged
// and kept for exact matching.
func NewPolicy(patterns []string, log zerolog.Logger) *Policy {
	p := &Policy{}
	for _, raw := range patterns {
		var re *regexp.Regexp
		// The pattern has to compile on its own before it is wrapped, or an
		// unbalanced group could escape the anchors.
		if _, err := regexp.Compile(raw); err != nil {
			log.Warn().Err(err).Str("pattern", raw).Msg("invalid auto-approve pattern, using exact match")
		} else {
			re = regexp.MustCompile(`^(?:` + raw + `)$`)
		}
		p.patterns = append(p.patterns, pattern{raw: raw, re: re})
	}
	return p
}

// Allows reports whether the whole of command matches an auto-approve pattern.
func (p *Policy) Allows(command string) bool {
	if p == nil || strings.TrimSpace(command) == "" {
		return false
	}
	for _, pt := range p.patterns {
		if pt.re == nil {
			if command == pt.raw {
				return true
			}
			continue
		}
		if pt.re.MatchString(command) {
			return true
		}
	}
	return false
}

// Outcome says how a request was settled without a prompt.
type Outcome int

const (
	// Prompt means the user has to decide.
	Prompt Outcome = iota
	// BySession means the session was escalated to approve all.
	BySession
	// ByPolicy means the command matched an auto-approve pattern.
	ByPolicy
)

// Evaluate decides whether a request can be settled without the user. When
// the outcome is Prompt the returned decision is meaningless.
func Evaluate(s *Session, p *Policy, command string) (Decision, Outcome) {
	if s != nil && s.ApproveAllShellCommands() {
		return ApproveAll, BySession
	}
	if p.Allows(command) {
		return Approve, ByPolicy
	}
	return "", Prompt
}
