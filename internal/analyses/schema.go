package analyses

import (
	"errors"
	"fmt"
	"strings"
)

// DescriptionCount is how many musical descriptions a final report carries.
const DescriptionCount = 5

// Findings is the exploratory analysis response.
type Findings struct {
	Positioning          string   `json:"positioning"`
	TargetAudience       string   `json:"target_audience"`
	TonePersonality      string   `json:"tone_personality"`
	SonicStory           string   `json:"sonic_story"`
	Instrumentation      []string `json:"instrumentation"`
	LyricalHooks         []string `json:"lyrical_hooks"`
	BrandPromise         string   `json:"brand_promise"`
	PracticalConstraints string   `json:"practical_constraints"`
}

// BrandFindings is the brand section of a final report.
type BrandFindings struct {
	Positioning          string `json:"positioning"`
	TargetAudience       string `json:"target_audience"`
	TonePersonality      string `json:"tone_personality"`
	VisualTactileCues    string `json:"visual_tactile_cues"`
	BrandPromise         string `json:"brand_promise"`
	PracticalConstraints string `json:"practical_constraints"`
}

// MusicalDescription is one jingle concept and the prompt used to render it.
type MusicalDescription struct {
	Title           string `json:"title"`
	MusicalElements string `json:"musical_elements"`
	Prompt          string `json:"elevenlabs_prompt"`
	Feel            string `json:"feel,omitempty"`
	EmotionalEffect string `json:"emotional_effect,omitempty"`
}

// Jingle groups the five concepts with their framing.
type Jingle struct {
	ConceptStatement string              `json:"concept_statement"`
	Description1     *MusicalDescription `json:"description1"`
	Description2     *MusicalDescription `json:"description2"`
	Description3     *MusicalDescription `json:"description3"`
	Description4     *MusicalDescription `json:"description4"`
	Description5     *MusicalDescription `json:"description5"`
	Keywords         []string            `json:"keywords"`
	Imagery          string              `json:"imagery"`
	WhyItWorks       []string            `json:"why_it_works"`
}

// Description returns description n (1-based), or nil when absent.
func (j Jingle) Description(n int) *MusicalDescription {
	switch n {
	case 1:
		return j.Description1
	case 2:
		return j.Description2
	case 3:
		return j.Description3
	case 4:
		return j.Description4
	case 5:
		return j.Description5
	}
	return nil
}

// CompositionPlan holds global style hints shared by all renders.
type CompositionPlan struct {
	PositiveGlobalStyles []string  `json:"positive_global_styles"`
	NegativeGlobalStyles *[]string `json:"negative_global_styles"`
}

// FinalReport is the rigid_final analysis response.
type FinalReport struct {
	BrandFindings     BrandFindings    `json:"brand_findings"`
	ArtisticRationale string           `json:"artistic_rationale"`
	Jingle            Jingle           `json:"jingle"`
	CompositionPlan   *CompositionPlan `json:"composition_plan"`
}

// ErrSchema marks a final report that failed the shape check.
var ErrSchema = errors.New("final report failed schema validation")

// Validate checks that all five descriptions and the composition plan are
// present. The error names every missing item.
func (r *FinalReport) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: report is nil", ErrSchema)
	}
	var problems []string
	for n := 1; n <= DescriptionCount; n++ {
		key := fmt.Sprintf("description%d", n)
		d := r.Jingle.Description(n)
		if d == nil {
			problems = append(problems, "missing "+key)
			continue
		}
		if strings.TrimSpace(d.Title) == "" {
			problems = append(problems, key+".title is required")
		}
		if strings.TrimSpace(d.MusicalElements) == "" {
			problems = append(problems, key+".musical_elements is required")
		}
		if strings.TrimSpace(d.Prompt) == "" {
			problems = append(problems, key+".elevenlabs_prompt is required")
		}
	}
	switch {
	case r.CompositionPlan == nil:
		problems = append(problems, "missing composition_plan")
	default:
		if len(r.CompositionPlan.PositiveGlobalStyles) == 0 {
			problems = append(problems, "composition_plan.positive_global_styles must be a non-empty array")
		}
		if r.CompositionPlan.NegativeGlobalStyles == nil {
			problems = append(problems, "missing composition_plan.negative_global_styles")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
	}
	return nil
}

// FindingsSchema is the json_schema sent with the exploratory request.
func FindingsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"positioning":           stringProp(),
			"target_audience":       stringProp(),
			"tone_personality":      stringProp(),
			"sonic_story":           stringProp(),
			"instrumentation":       stringArrayProp(),
			"lyrical_hooks":         stringArrayProp(),
			"brand_promise":         stringProp(),
			"practical_constraints": stringProp(),
		},
		"required": []string{
			"positioning", "target_audience", "tone_personality", "sonic_story",
			"instrumentation", "lyrical_hooks", "brand_promise", "practical_constraints",
		},
	}
}

// FinalReportSchema is the json_schema sent with the finalize request.
func FinalReportSchema() map[string]any {
	description := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":             stringProp(),
			"musical_elements":  stringProp(),
			"elevenlabs_prompt": stringProp(),
			"feel":              stringProp(),
			"emotional_effect":  stringProp(),
		},
		"required": []string{"title", "musical_elements", "elevenlabs_prompt"},
	}
	jingleProps := map[string]any{
		"concept_statement": stringProp(),
		"keywords":          stringArrayProp(),
		"imagery":           stringProp(),
		"why_it_works":      stringArrayProp(),
	}
	jingleRequired := []string{"concept_statement"}
	for n := 1; n <= DescriptionCount; n++ {
		key := fmt.Sprintf("description%d", n)
		jingleProps[key] = description
		jingleRequired = append(jingleRequired, key)
	}
	jingleRequired = append(jingleRequired, "keywords", "imagery", "why_it_works")

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"brand_findings": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"positioning":           stringProp(),
					"target_audience":       stringProp(),
					"tone_personality":      stringProp(),
					"visual_tactile_cues":   stringProp(),
					"brand_promise":         stringProp(),
					"practical_constraints": stringProp(),
				},
				"required": []string{
					"positioning", "target_audience", "tone_personality",
					"visual_tactile_cues", "brand_promise", "practical_constraints",
				},
			},
			"artistic_rationale": stringProp(),
			"jingle": map[string]any{
				"type":       "object",
				"properties": jingleProps,
				"required":   jingleRequired,
			},
			"composition_plan": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"positive_global_styles": stringArrayProp(),
					"negative_global_styles": stringArrayProp(),
				},
				"required": []string{"positive_global_styles", "negative_global_styles"},
			},
		},
		"required": []string{"brand_findings", "artistic_rationale", "jingle", "composition_plan"},
	}
}

func stringProp() map[string]any { return map[string]any{"type": "string"} }

func stringArrayProp() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}
