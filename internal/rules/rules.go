// Package rules scores page signals with an ordered set of independent rules.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/remiPra/seo-crawler/internal/extras"
	"github.com/remiPra/seo-crawler/internal/signals"
	"github.com/remiPra/seo-crawler/pkg/types"
)

// ErrRulePanic wraps a panic recovered while a rule was running.
var ErrRulePanic = errors.New("rule panicked")

// Severity grades an issue.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Issue is one finding reported by a rule.
type Issue struct {
	RuleID   string         `json:"rule_id"`
	Topic    string         `json:"topic"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// Result is what a single rule invocation returns.
type Result struct {
	Issues     []Issue
	ScoreDelta int
}

// Input bundles everything a page rule may look at.
type Input struct {
	Signals *signals.PageSignals
	HTML    []byte
	URL     *url.URL
	Headers types.Headers
	Extras  extras.Site
}

// Rule scores the page signals.
type Rule interface {
	ID() string
	Evaluate(in Input) (Result, error)
}

// HeaderRule scores the response headers of a page.
type HeaderRule interface {
	ID() string
	EvaluateHeaders(headers types.Headers) (Result, error)
}

// SiteRule scores host-wide signals shared by every page of a site.
type SiteRule interface {
	ID() string
	EvaluateSite(site extras.Site) (Result, error)
}

type ruleFunc struct {
	id string
	fn func(Input) (Result, error)
}

func (r ruleFunc) ID() string                        { return r.id }
func (r ruleFunc) Evaluate(in Input) (Result, error) { return r.fn(in) }

// New wraps a function as a Rule.
func New(id string, fn func(Input) (Result, error)) Rule {
	return ruleFunc{id: id, fn: fn}
}

// Outcome records how one rule invocation ended. A failed outcome carries
// Err and contributes neither score nor issues.
type Outcome struct {
	RuleID string
	Result Result
	Err    error
}

// OK reports whether the rule completed.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report aggregates every outcome for one page.
type Report struct {
	Outcomes   []Outcome
	ScoreDelta int
	Issues     []Issue
}

// Failures lists the ids of rules that did not complete.
func (r Report) Failures() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if !o.OK() {
			ids = append(ids, o.RuleID)
		}
	}
	return ids
}

// Engine runs a fixed, ordered rule list plus the header and site rules.
type Engine struct {
	rules  []Rule
	header HeaderRule
	site   SiteRule
	logger *slog.Logger
}

// NewEngine builds an engine. header and site may be nil.
func NewEngine(list []Rule, header HeaderRule, site SiteRule, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:  append([]Rule(nil), list...),
		header: header,
		site:   site,
		logger: logger,
	}
}

// Default returns the engine with the full catalog.
func Default(logger *slog.Logger) *Engine {
	return NewEngine(DefaultRules(), SecurityHeaders{}, AEOFiles{}, logger)
}

// Without returns a copy of the engine with the given rule ids removed.
func (e *Engine) Without(ids ...string) *Engine {
	if len(ids) == 0 {
		return e
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[strings.ToUpper(strings.TrimSpace(id))] = struct{}{}
	}
	out := &Engine{logger: e.logger}
	for _, r := range e.rules {
		if _, ok := drop[r.ID()]; !ok {
			out.rules = append(out.rules, r)
		}
	}
	if e.header != nil {
		if _, ok := drop[e.header.ID()]; !ok {
			out.header = e.header
		}
	}
	if e.site != nil {
		if _, ok := drop[e.site.ID()]; !ok {
			out.site = e.site
		}
	}
	return out
}

// IDs lists the rule ids in execution order.
func (e *Engine) IDs() []string {
	ids := make([]string, 0, len(e.rules)+2)
	for _, r := range e.rules {
		ids = append(ids, r.ID())
	}
	if e.header != nil {
		ids = append(ids, e.header.ID())
	}
	if e.site != nil {
		ids = append(ids, e.site.ID())
	}
	return ids
}

// Run evaluates every rule in order. A failing rule is logged and skipped;
// the others still run.
func (e *Engine) Run(in Input) Report {
	var report Report
	record := func(o Outcome) {
		report.Outcomes = append(report.Outcomes, o)
		if !o.OK() {
			e.logger.Warn("rule failed", "rule", o.RuleID, "url", urlString(in.URL), "error", o.Err)
			return
		}
		report.ScoreDelta += o.Result.ScoreDelta
		report.Issues = append(report.Issues, o.Result.Issues...)
	}

	for _, r := range e.rules {
		r := r
		record(guard(r.ID(), func() (Result, error) { return r.Evaluate(in) }))
	}
	if e.header != nil {
		record(guard(e.header.ID(), func() (Result, error) { return e.header.EvaluateHeaders(in.Headers) }))
	}
	if e.site != nil {
		record(guard(e.site.ID(), func() (Result, error) { return e.site.EvaluateSite(in.Extras) }))
	}
	return report
}

func guard(id string, fn func() (Result, error)) (out Outcome) {
	out.RuleID = id
	defer func() {
		if r := recover(); r != nil {
			out.Result = Result{}
			out.Err = fmt.Errorf("%w: %v", ErrRulePanic, r)
		}
	}()
	res, err := fn()
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res
	return out
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
