package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/optimo/internal/models"
)

// Variant names as the engines see them.
const (
	VariantReformulation = "reformulation"
	VariantInquiry       = "inquiry"
	VariantGeneratedCode = "generated_code"
)

func problemClassNames() []string {
	out := make([]string, 0, len(models.ProblemClasses))
	for _, c := range models.ProblemClasses {
		out = append(out, string(c))
	}
	return out
}

var Reformulation = &Schema{
	Type: TypeObject,
	Properties: map[string]*Schema{
		"reformulated_problem": {Type: TypeString, Description: "Complete mathematical restatement: sets, parameters, decision variables, objective, constraints."},
		"problem_type":         {Type: TypeString, Enum: problemClassNames()},
		"assumptions":          {Type: TypeArray, Items: &Schema{Type: TypeString}},
	},
	Required: []string{"reformulated_problem", "problem_type", "assumptions"},
}

var Inquiry = &Schema{
	Type: TypeObject,
	Properties: map[string]*Schema{
		"explanation":             {Type: TypeString},
		"clarification_questions": {Type: TypeArray, Items: &Schema{Type: TypeString}, MinItems: 1},
	},
	Required: []string{"explanation", "clarification_questions"},
}

var GeneratedCode = &Schema{
	Type: TypeObject,
	Properties: map[string]*Schema{
		"code": {Type: TypeString, Description: "A complete runnable Python program."},
	},
	Required: []string{"code"},
}

// ValidationResult is the shape the sandbox harness writes after running a model.
var ValidationResult = &Schema{
	Type: TypeObject,
	Properties: map[string]*Schema{
		"success":           {Type: TypeBoolean},
		"error":             {Type: TypeString, Nullable: true},
		"objective_name":    {Type: TypeString, Nullable: true},
		"objective_value":   {Type: TypeNumber, Nullable: true},
		"objective_unknown": {Type: TypeBoolean},
		"solve_function":    {Type: TypeString, Nullable: true},
	},
	Required: []string{"success"},
}

// ExpertOutputs is the closed set the Expert stage declares.
var ExpertOutputs = Set{
	{Name: VariantReformulation, Description: "The finalized structured restatement of the problem.", Schema: Reformulation},
	{Name: VariantInquiry, Description: "Questions to ask when required data is missing or ambiguous.", Schema: Inquiry},
}

// IntegratorOutputs is the closed set the Integrator stage declares.
var IntegratorOutputs = Set{
	{Name: VariantGeneratedCode, Description: "The generated model source.", Schema: GeneratedCode},
}

// ParseExpert turns a decoded variant into the Expert tagged union.
func ParseExpert(variant string, data json.RawMessage) (*models.ExpertOutput, error) {
	var out models.ExpertOutput
	switch variant {
	case VariantReformulation:
		var r models.Reformulation
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode reformulation: %w", err)
		}
		r.ReformulatedProblem = strings.TrimSpace(r.ReformulatedProblem)
		if r.ReformulatedProblem == "" {
			return nil, Errors{{Field: "$.reformulated_problem", Message: "must not be empty"}}
		}
		if !r.ProblemClass.Valid() {
			return nil, Errors{{Field: "$.problem_type", Message: fmt.Sprintf("unknown problem class %q", r.ProblemClass)}}
		}
		if r.Assumptions == nil {
			r.Assumptions = []string{}
		}
		out = models.ExpertOutput{Kind: models.ExpertReformulation, Reformulation: &r}
	case VariantInquiry:
		var c models.ClarificationRequest
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode inquiry: %w", err)
		}
		qs := c.Questions[:0]
		for _, q := range c.Questions {
			if q = strings.TrimSpace(q); q != "" {
				qs = append(qs, q)
			}
		}
		c.Questions = qs
		out = models.ExpertOutput{Kind: models.ExpertInquiry, Clarification: &c}
	default:
		return nil, fmt.Errorf("%w: unexpected variant %q", models.ErrInvalidExpertOutput, variant)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseGeneratedCode extracts the code string of a generated_code answer.
func ParseGeneratedCode(variant string, data json.RawMessage) (string, error) {
	if variant != VariantGeneratedCode {
		return "", fmt.Errorf("unexpected variant %q", variant)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode generated code: %w", err)
	}
	code := StripCodeFences(payload.Code)
	if code == "" {
		return "", Errors{{Field: "$.code", Message: "must not be empty"}}
	}
	return code, nil
}

// HarnessResult is the typed form of ValidationResult.
type HarnessResult struct {
	Success          bool     `json:"success"`
	Error            *string  `json:"error"`
	ObjectiveName    *string  `json:"objective_name"`
	ObjectiveValue   *float64 `json:"objective_value"`
	ObjectiveUnknown bool     `json:"objective_unknown"`
	SolveFunction    *string  `json:"solve_function"`
}

// ParseHarnessResult validates and decodes the sandbox harness result document.
func ParseHarnessResult(data []byte) (*HarnessResult, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode harness result: %w", err)
	}
	if errs := Validate(ValidationResult, generic); len(errs) > 0 {
		return nil, errs
	}
	var res HarnessResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode harness result: %w", err)
	}
	return &res, nil
}
