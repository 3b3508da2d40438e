package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type SectionKind string

const (
	SectionTitle            SectionKind = "title"
	SectionSubtitle         SectionKind = "subtitle"
	SectionExecutiveSummary SectionKind = "executive_summary"
	SectionFindingsTable    SectionKind = "findings_overview_table"
	SectionNotableExamples  SectionKind = "key_notable_examples"
	SectionRiskImplications SectionKind = "risk_implications"
	SectionRecommendations  SectionKind = "recommendations"
	SectionFooter           SectionKind = "footer"
	SectionDeepSearch       SectionKind = "deep_search"
	SectionOpaque           SectionKind = "opaque"
)

// Section is one part of a final report. Known sections decode into typed values;
// anything else is kept as an OpaqueSection.
type Section interface {
	Kind() SectionKind
}

type Subtitle struct {
	Category          string `json:"category,omitempty"`
	TimeframeReviewed string `json:"timeframe_reviewed,omitempty"`
}

func (Subtitle) Kind() SectionKind { return SectionSubtitle }

type ExecutiveSummary struct {
	Bullets          []string `json:"bullets,omitempty"`
	OverallRiskLevel string   `json:"overall_risk_level,omitempty"`
}

func (ExecutiveSummary) Kind() SectionKind { return SectionExecutiveSummary }

type FindingRow struct {
	Category            string   `json:"category,omitempty"`
	Count               int      `json:"count"`
	Timeframe           string   `json:"timeframe,omitempty"`
	KeyIssuesThemesOnly []string `json:"key_issues_themes_only,omitempty"`
}

type FindingsTable []FindingRow

func (FindingsTable) Kind() SectionKind { return SectionFindingsTable }

type NotableExample struct {
	Bullet     string   `json:"bullet,omitempty"`
	Status     string   `json:"status,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	SourceURLs []string `json:"source_urls,omitempty"`
}

type NotableExamples struct {
	Lawsuits []NotableExample `json:"lawsuits,omitempty"`
	Recalls  []NotableExample `json:"recalls,omitempty"`
	Warnings []NotableExample `json:"warnings,omitempty"`
}

func (NotableExamples) Kind() SectionKind { return SectionNotableExamples }

type BulletSection struct {
	Bullets []string `json:"bullets,omitempty"`
}

type Footer struct {
	MethodologyLine string `json:"methodology_line,omitempty"`
	DisclaimerLine  string `json:"disclaimer_line,omitempty"`
}

func (Footer) Kind() SectionKind { return SectionFooter }

type OpaqueSection struct {
	Key string
	Raw json.RawMessage
}

func (OpaqueSection) Kind() SectionKind { return SectionOpaque }

type titleSection string

func (titleSection) Kind() SectionKind { return SectionTitle }

type bulletSection struct {
	kind SectionKind
	BulletSection
}

func (s bulletSection) Kind() SectionKind { return s.kind }

type deepSearchSection json.RawMessage

func (deepSearchSection) Kind() SectionKind { return SectionDeepSearch }

// FinalReport is the writer stage output. Sections that fail to decode into their typed
// shape are preserved verbatim in Extra so a newer backend never breaks older clients.
type FinalReport struct {
	Title            string
	Subtitle         *Subtitle
	ExecutiveSummary *ExecutiveSummary
	FindingsTable    FindingsTable
	NotableExamples  *NotableExamples
	RiskImplications *BulletSection
	Recommendations  *BulletSection
	Footer           *Footer
	DeepSearch       json.RawMessage
	Extra            map[string]json.RawMessage

	// Opaque holds a final_report value that is not an object, such as a progress string.
	Opaque json.RawMessage
}

// HasDeepSearch reports whether the deep search stage has contributed to the report.
func (r *FinalReport) HasDeepSearch() bool {
	return r != nil && hasValue(r.DeepSearch)
}

// RiskLevel returns the overall risk level from the executive summary, if any.
func (r *FinalReport) RiskLevel() string {
	if r == nil || r.ExecutiveSummary == nil {
		return ""
	}
	return r.ExecutiveSummary.OverallRiskLevel
}

// Sections lists the report as a tagged union, known sections first in document order.
func (r *FinalReport) Sections() []Section {
	if r == nil {
		return nil
	}
	if r.Opaque != nil {
		return []Section{OpaqueSection{Raw: r.Opaque}}
	}
	var out []Section
	if r.Title != "" {
		out = append(out, titleSection(r.Title))
	}
	if r.Subtitle != nil {
		out = append(out, *r.Subtitle)
	}
	if r.ExecutiveSummary != nil {
		out = append(out, *r.ExecutiveSummary)
	}
	if r.FindingsTable != nil {
		out = append(out, r.FindingsTable)
	}
	if r.NotableExamples != nil {
		out = append(out, *r.NotableExamples)
	}
	if r.RiskImplications != nil {
		out = append(out, bulletSection{kind: SectionRiskImplications, BulletSection: *r.RiskImplications})
	}
	if r.Recommendations != nil {
		out = append(out, bulletSection{kind: SectionRecommendations, BulletSection: *r.Recommendations})
	}
	if r.Footer != nil {
		out = append(out, *r.Footer)
	}
	if r.DeepSearch != nil {
		out = append(out, deepSearchSection(r.DeepSearch))
	}
	keys := make([]string, 0, len(r.Extra))
	for key := range r.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, OpaqueSection{Key: key, Raw: r.Extra[key]})
	}
	return out
}

func (r *FinalReport) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return fmt.Errorf("decode final report: invalid json")
		}
		*r = FinalReport{Opaque: append(json.RawMessage(nil), trimmed...)}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("decode final report: %w", err)
	}

	out := FinalReport{}
	keep := func(key string, raw json.RawMessage) {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[key] = raw
	}

	for key, raw := range fields {
		var err error
		switch SectionKind(key) {
		case SectionTitle:
			err = json.Unmarshal(raw, &out.Title)
		case SectionSubtitle:
			out.Subtitle, err = decodeSection[Subtitle](raw)
		case SectionExecutiveSummary:
			out.ExecutiveSummary, err = decodeSection[ExecutiveSummary](raw)
		case SectionFindingsTable:
			err = json.Unmarshal(raw, &out.FindingsTable)
		case SectionNotableExamples:
			out.NotableExamples, err = decodeSection[NotableExamples](raw)
		case SectionRiskImplications:
			out.RiskImplications, err = decodeSection[BulletSection](raw)
		case SectionRecommendations:
			out.Recommendations, err = decodeSection[BulletSection](raw)
		case SectionFooter:
			out.Footer, err = decodeSection[Footer](raw)
		case SectionDeepSearch:
			out.DeepSearch = append(json.RawMessage(nil), raw...)
		default:
			keep(key, raw)
			continue
		}
		if err != nil {
			keep(key, raw)
		}
	}

	*r = out
	return nil
}

func (r FinalReport) MarshalJSON() ([]byte, error) {
	if r.Opaque != nil {
		return r.Opaque, nil
	}
	fields := make(map[string]any, len(r.Extra)+9)
	for key, raw := range r.Extra {
		fields[key] = raw
	}
	if r.Title != "" {
		fields[string(SectionTitle)] = r.Title
	}
	if r.Subtitle != nil {
		fields[string(SectionSubtitle)] = r.Subtitle
	}
	if r.ExecutiveSummary != nil {
		fields[string(SectionExecutiveSummary)] = r.ExecutiveSummary
	}
	if r.FindingsTable != nil {
		fields[string(SectionFindingsTable)] = r.FindingsTable
	}
	if r.NotableExamples != nil {
		fields[string(SectionNotableExamples)] = r.NotableExamples
	}
	if r.RiskImplications != nil {
		fields[string(SectionRiskImplications)] = r.RiskImplications
	}
	if r.Recommendations != nil {
		fields[string(SectionRecommendations)] = r.Recommendations
	}
	if r.Footer != nil {
		fields[string(SectionFooter)] = r.Footer
	}
	if r.DeepSearch != nil {
		fields[string(SectionDeepSearch)] = r.DeepSearch
	}
	return json.Marshal(fields)
}

func decodeSection[T any](raw json.RawMessage) (*T, error) {
	if !hasValue(raw) {
		return nil, nil
	}
	var section T
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, err
	}
	return &section, nil
}
