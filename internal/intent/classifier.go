// Package intent maps free-form user text to a named intent using an ordered
// table of pattern groups. Classification is deterministic: the table is
// fixed at build time, groups are evaluated in declaration order, and the
// first group with any matching pattern wins.
package intent

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var patternsYAML []byte

const (
	// IntentUnknown is returned when no pattern group matches.
	IntentUnknown = "unknown"

	// RuleConfidence is the fixed confidence assigned to any rule match.
	RuleConfidence = 0.9

	// FallbackThreshold is the confidence below which the fallback responder
	// should be consulted instead of a canned reply.
	FallbackThreshold = 0.7
)

// Match is the result of classifying one message.
type Match struct {
	Intent     string
	Confidence float64
	// Reply is the pre-authored answer for the intent, empty if none exists.
	Reply string
}

type patternGroup struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Reply    string   `yaml:"reply"`
}

type patternFile struct {
	Groups []patternGroup `yaml:"groups"`
}

type compiledGroup struct {
	name     string
	matchers []*regexp.Regexp
	reply    string
}

// Classifier evaluates the pattern table against normalized text.
type Classifier struct {
	groups []compiledGroup
}

// New builds a Classifier from the embedded pattern table.
func New() (*Classifier, error) {
	return newFromYAML(patternsYAML)
}

func newFromYAML(data []byte) (*Classifier, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pattern table: %w", err)
	}
	if len(pf.Groups) == 0 {
		return nil, fmt.Errorf("pattern table is empty")
	}

	c := &Classifier{groups: make([]compiledGroup, 0, len(pf.Groups))}
	for _, g := range pf.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("pattern group without a name")
		}
		cg := compiledGroup{name: g.Name, reply: strings.TrimSpace(g.Reply)}
		for _, p := range g.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in group %s: %w", p, g.Name, err)
			}
			cg.matchers = append(cg.matchers, re)
		}
		c.groups = append(c.groups, cg)
	}
	return c, nil
}

// Classify returns the first matching group at RuleConfidence, or
// IntentUnknown at confidence 0 when nothing matches.
func (c *Classifier) Classify(text string) Match {
	normalized := Normalize(text)
	if normalized == "" {
		return Match{Intent: IntentUnknown}
	}

	for _, g := range c.groups {
		for _, re := range g.matchers {
			if re.MatchString(normalized) {
				return Match{Intent: g.name, Confidence: RuleConfidence, Reply: g.reply}
			}
		}
	}
	return Match{Intent: IntentUnknown}
}

// ShouldUseFallback reports whether the fallback responder should answer:
// true when confidence is below FallbackThreshold or the matched intent has
// no canned reply.
func ShouldUseFallback(m Match) bool {
	return m.Confidence < FallbackThreshold || m.Reply == ""
}

// Normalize lowercases and trims text for matching. Exposed because the
// frustration check in the escalation evaluator applies the same form.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
