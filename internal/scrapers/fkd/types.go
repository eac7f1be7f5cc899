package fkd

import (
	"fmt"
	"strings"

	"fkd-backend/internal/scenario"
)

type Multimedia struct {
	Id      string `json:"id"`
	Caption string `json:"caption"`
}

type Images struct {
	// Representative is the file name of the representative figure under
	// df/.
	Representative string       `json:"representative"`
	Multimedia     []Multimedia `json:"multimedia"`
}

type Casualties struct {
	Deaths   int `json:"deaths"`
	Injuries int `json:"injuries"`
}

// CaseRecord is one harvested failure case. Its JSON form is what the
// harvest command writes and what the render command reads back.
type CaseRecord struct {
	CaseId          string             `json:"case_id"`
	Url             string             `json:"url"`
	CaseName        string             `json:"case_name"`
	Date            string             `json:"date"`
	Location        string             `json:"location"`
	Facility        string             `json:"facility"`
	Summary         string             `json:"summary"`
	Phenomenon      string             `json:"phenomenon"`
	Process         string             `json:"process"`
	Cause           string             `json:"cause"`
	Response        string             `json:"response"`
	Countermeasure  string             `json:"countermeasure"`
	Knowledge       []string           `json:"knowledge"`
	Background      string             `json:"background"`
	Scenario        scenario.Structure `json:"scenario"`
	Images          Images             `json:"images"`
	Sources         []string           `json:"sources"`
	Casualties      Casualties         `json:"casualties"`
	FinancialDamage string             `json:"financial_damage"`
	SocialImpact    string             `json:"social_impact"`
	Notes           string             `json:"notes"`
	Field           string             `json:"field"`
	Authors         []string           `json:"authors"`
}

// Labels of the fields a case must have to be kept.
const (
	LabelSummary        = "事例概要"
	LabelProcess        = "経過"
	LabelCause          = "原因"
	LabelCountermeasure = "対策"
	LabelScenario       = "シナリオ"
)

var RequiredLabels = []string{
	LabelSummary,
	LabelProcess,
	LabelCause,
	LabelCountermeasure,
	LabelScenario,
}

// MissingLabels lists the required fields that are empty, in
// RequiredLabels order.
func (r CaseRecord) MissingLabels() []string {
	var missing []string
	for _, label := range RequiredLabels {
		var present bool
		switch label {
		case LabelSummary:
			present = r.Summary != ""
		case LabelProcess:
			present = r.Process != ""
		case LabelCause:
			present = r.Cause != ""
		case LabelCountermeasure:
			present = r.Countermeasure != ""
		case LabelScenario:
			present = !r.Scenario.Empty()
		}
		if !present {
			missing = append(missing, label)
		}
	}
	return missing
}

// Validate returns a *MissingFieldsError when required fields are empty.
func (r CaseRecord) Validate() error {
	missing := r.MissingLabels()
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{
		CaseId:        r.CaseId,
		CaseName:      r.CaseName,
		Url:           r.Url,
		MissingLabels: missing,
	}
}

// MissingFieldsError marks a case that was fetched and parsed but is too
// incomplete to keep. Such cases are excluded rather than failed.
type MissingFieldsError struct {
	CaseId        string
	CaseName      string
	Url           string
	MissingLabels []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.MissingLabels, ", "))
}
