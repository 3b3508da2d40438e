package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

//go:embed final_report.schema.json
var finalReportSchema []byte

const finalReportResource = "final_report.schema.json"

// Validator checks final reports against the bundled document schema.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	return NewValidatorFromSchema(finalReportSchema)
}

func NewValidatorFromSchema(raw []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(finalReportResource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(finalReportResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// ValidateFinalReport accepts a nil report; the backend may finish without one.
func (v *Validator) ValidateFinalReport(report *domain.FinalReport) error {
	if report == nil {
		return nil
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		return domain.WrapError(domain.ErrProtocol, "validate final report", fmt.Errorf("marshal: %w", err))
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return domain.WrapError(domain.ErrProtocol, "validate final report", fmt.Errorf("unmarshal: %w", err))
	}
	if err := v.schema.Validate(doc); err != nil {
		return domain.WrapError(domain.ErrProtocol, "validate final report", fmt.Errorf("final report does not match schema: %w", err))
	}
	return nil
}
