// Package criteria models the per-type requirement criteria and the
// structured values extracted from candidate answers, and evaluates a
// value against its criteria deterministically.
package criteria

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/driverline/screener/internal/domain"
)

// Requirement type tags stored in job_requirements.requirement_type.
const (
	TypeCDLClass              = "CDL_CLASS"
	TypeYearsExperience       = "YEARS_EXPERIENCE"
	TypeDrivingRecord         = "DRIVING_RECORD"
	TypeEndorsements          = "ENDORSEMENTS"
	TypeAgeRequirement        = "AGE_REQUIREMENT"
	TypePhysicalExam          = "PHYSICAL_EXAM"
	TypeDrugTest              = "DRUG_TEST"
	TypeBackgroundCheck       = "BACKGROUND_CHECK"
	TypeGeographicRestriction = "GEOGRAPHIC_RESTRICTION"
)

// Types lists every supported requirement type.
func Types() []string {
	return []string{
		TypeCDLClass,
		TypeYearsExperience,
		TypeDrivingRecord,
		TypeEndorsements,
		TypeAgeRequirement,
		TypePhysicalExam,
		TypeDrugTest,
		TypeBackgroundCheck,
		TypeGeographicRestriction,
	}
}

// IsSupported reports whether t is a known requirement type.
func IsSupported(t string) bool {
	for _, known := range Types() {
		if known == t {
			return true
		}
	}
	return false
}

// CDL classes ranked A > B > C. Class A covers everything.
var cdlClassRank = map[string]int{"A": 3, "B": 2, "C": 1}

// CDLClassCriteria requires a commercial driver's license of at least the
// given class.
type CDLClassCriteria struct {
	Required bool   `mapstructure:"required"`
	CDLClass string `mapstructure:"cdl_class"`
}

// CDLClassValue is the extracted answer for a CDL_CLASS requirement.
type CDLClassValue struct {
	CDLClass  string `mapstructure:"cdl_class"`
	Confirmed bool   `mapstructure:"confirmed"`
}

// YearsExperienceCriteria requires a minimum number of years of driving
// experience. When only preferred, any answer is accepted.
type YearsExperienceCriteria struct {
	Required  bool `mapstructure:"required"`
	MinYears  int  `mapstructure:"min_years"`
	Preferred bool `mapstructure:"preferred"`
}

type YearsExperienceValue struct {
	YearsExperience int `mapstructure:"years_experience"`
}

// DrivingRecordCriteria caps recent violations and accidents.
type DrivingRecordCriteria struct {
	Required      bool `mapstructure:"required"`
	MaxViolations int  `mapstructure:"max_violations"`
	MaxAccidents  int  `mapstructure:"max_accidents"`
}

type DrivingRecordValue struct {
	Violations int `mapstructure:"violations"`
	Accidents  int `mapstructure:"accidents"`
}

// Endorsement demand levels: true means required, "preferred" means nice
// to have, false or absent means not needed.
type EndorsementsCriteria struct {
	Required       bool `mapstructure:"required"`
	Hazmat         any  `mapstructure:"hazmat"`
	Tanker         any  `mapstructure:"tanker"`
	DoublesTriples any  `mapstructure:"doubles_triples"`
}

type EndorsementsValue struct {
	Hazmat         *bool `mapstructure:"hazmat"`
	Tanker         *bool `mapstructure:"tanker"`
	DoublesTriples *bool `mapstructure:"doubles_triples"`
}

// AgeRequirementCriteria requires a minimum age (DOT interstate rules
// start at 21, intrastate at 18).
type AgeRequirementCriteria struct {
	Required bool `mapstructure:"required"`
	MinAge   int  `mapstructure:"min_age"`
}

type AgeRequirementValue struct {
	Age int `mapstructure:"age"`
}

// PhysicalExamCriteria requires a current DOT physical.
type PhysicalExamCriteria struct {
	Required           bool `mapstructure:"required"`
	CurrentDOTPhysical bool `mapstructure:"current_dot_physical"`
}

type PhysicalExamValue struct {
	HasCurrentDOTPhysical bool `mapstructure:"has_current_dot_physical"`
	Confirmed             bool `mapstructure:"confirmed"`
}

// DrugTestCriteria requires consent to pre-employment and, optionally,
// random drug testing.
type DrugTestCriteria struct {
	Required      bool `mapstructure:"required"`
	PreEmployment bool `mapstructure:"pre_employment"`
	RandomTesting bool `mapstructure:"random_testing"`
}

type DrugTestValue struct {
	AgreesToPreEmployment bool `mapstructure:"agrees_to_pre_employment"`
	AgreesToRandomTesting bool `mapstructure:"agrees_to_random_testing"`
	Confirmed             bool `mapstructure:"confirmed"`
}

// BackgroundCheckCriteria requires consent to the listed checks.
type BackgroundCheckCriteria struct {
	Required               bool `mapstructure:"required"`
	CriminalCheck          bool `mapstructure:"criminal_check"`
	EmploymentVerification bool `mapstructure:"employment_verification"`
	EducationVerification  bool `mapstructure:"education_verification"`
}

type BackgroundCheckValue struct {
	Consents bool `mapstructure:"consents"`
}

// GeographicRestrictionCriteria limits candidates to the listed states
// or regions. Two-letter state codes, e.g. ["NY", "NJ", "PA"].
type GeographicRestrictionCriteria struct {
	Required       bool     `mapstructure:"required"`
	AllowedStates  []string `mapstructure:"allowed_states"`
	AllowedRegions []string `mapstructure:"allowed_regions"`
}

type GeographicRestrictionValue struct {
	Location string `mapstructure:"location"`
	Region   string `mapstructure:"region"`
}

func decode(raw map[string]any, out any) error {
	cfg := &mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Evaluate checks the extracted value against the requirement criteria
// and returns MET or NOT_MET. A nil value means the requirement has not
// been answered yet and stays PENDING. Unknown requirement types are an
// error so misconfigured jobs fail loudly instead of silently passing.
func Evaluate(requirementType string, crit, value map[string]any) (domain.OutcomeStatus, error) {
	if value == nil {
		return domain.OutcomePending, nil
	}

	switch requirementType {
	case TypeCDLClass:
		return evaluateCDLClass(crit, value)
	case TypeYearsExperience:
		return evaluateYearsExperience(crit, value)
	case TypeDrivingRecord:
		return evaluateDrivingRecord(crit, value)
	case TypeEndorsements:
		return evaluateEndorsements(crit, value)
	case TypeAgeRequirement:
		return evaluateAgeRequirement(crit, value)
	case TypePhysicalExam:
		return evaluatePhysicalExam(crit, value)
	case TypeDrugTest:
		return evaluateDrugTest(crit, value)
	case TypeBackgroundCheck:
		return evaluateBackgroundCheck(crit, value)
	case TypeGeographicRestriction:
		return evaluateGeographicRestriction(crit, value)
	default:
		return domain.OutcomePending, fmt.Errorf("unsupported requirement type %q", requirementType)
	}
}

func evaluateCDLClass(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c CDLClassCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode cdl class criteria: %w", err)
	}
	var v CDLClassValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	have, ok := cdlClassRank[strings.ToUpper(strings.TrimSpace(v.CDLClass))]
	if !ok || !v.Confirmed {
		return domain.OutcomeNotMet, nil
	}
	want := cdlClassRank[strings.ToUpper(strings.TrimSpace(c.CDLClass))]
	if have >= want {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluateYearsExperience(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c YearsExperienceCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode years experience criteria: %w", err)
	}
	var v YearsExperienceValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	// Preferred-only experience never fails a candidate.
	if c.Preferred && !c.Required {
		return domain.OutcomeMet, nil
	}
	if v.YearsExperience >= c.MinYears {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluateDrivingRecord(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c DrivingRecordCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode driving record criteria: %w", err)
	}
	var v DrivingRecordValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if v.Violations <= c.MaxViolations && v.Accidents <= c.MaxAccidents {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

// endorsementDemanded interprets one endorsement field from criteria:
// true = required, "preferred" = optional, false/nil = not needed.
func endorsementSatisfied(demand any, have *bool) bool {
	switch d := demand.(type) {
	case nil:
		return true
	case bool:
		if !d {
			return true
		}
		return have != nil && *have
	case string:
		// "preferred" never blocks.
		return strings.EqualFold(strings.TrimSpace(d), "preferred")
	default:
		return true
	}
}

func evaluateEndorsements(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c EndorsementsCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode endorsements criteria: %w", err)
	}
	var v EndorsementsValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if endorsementSatisfied(c.Hazmat, v.Hazmat) &&
		endorsementSatisfied(c.Tanker, v.Tanker) &&
		endorsementSatisfied(c.DoublesTriples, v.DoublesTriples) {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluateAgeRequirement(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c AgeRequirementCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode age criteria: %w", err)
	}
	var v AgeRequirementValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if v.Age >= c.MinAge {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluatePhysicalExam(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c PhysicalExamCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode physical exam criteria: %w", err)
	}
	var v PhysicalExamValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if !c.CurrentDOTPhysical {
		return domain.OutcomeMet, nil
	}
	if v.HasCurrentDOTPhysical && v.Confirmed {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluateDrugTest(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c DrugTestCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode drug test criteria: %w", err)
	}
	var v DrugTestValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if !v.Confirmed {
		return domain.OutcomeNotMet, nil
	}
	if c.PreEmployment && !v.AgreesToPreEmployment {
		return domain.OutcomeNotMet, nil
	}
	if c.RandomTesting && !v.AgreesToRandomTesting {
		return domain.OutcomeNotMet, nil
	}
	return domain.OutcomeMet, nil
}

func evaluateBackgroundCheck(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c BackgroundCheckCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode background check criteria: %w", err)
	}
	var v BackgroundCheckValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	if v.Consents {
		return domain.OutcomeMet, nil
	}
	return domain.OutcomeNotMet, nil
}

func evaluateGeographicRestriction(crit, value map[string]any) (domain.OutcomeStatus, error) {
	var c GeographicRestrictionCriteria
	if err := decode(crit, &c); err != nil {
		return domain.OutcomePending, fmt.Errorf("decode geographic restriction criteria: %w", err)
	}
	var v GeographicRestrictionValue
	if err := decode(value, &v); err != nil {
		return domain.OutcomeNotMet, nil
	}
	// No restriction configured means any location is fine.
	if len(c.AllowedStates) == 0 && len(c.AllowedRegions) == 0 {
		return domain.OutcomeMet, nil
	}
	location := strings.ToUpper(strings.TrimSpace(v.Location))
	for _, state := range c.AllowedStates {
		if strings.ToUpper(strings.TrimSpace(state)) == location {
			return domain.OutcomeMet, nil
		}
	}
	region := strings.TrimSpace(v.Region)
	for _, allowed := range c.AllowedRegions {
		if strings.EqualFold(strings.TrimSpace(allowed), region) && region != "" {
			return domain.OutcomeMet, nil
		}
	}
	return domain.OutcomeNotMet, nil
}
