package schemas

import (
	"regexp"
	"strings"
	"time"
)

// -- Test Case Schemas --

// CaseStatus is the authoring status of a stored test case.
type CaseStatus string

const (
	CaseDraft      CaseStatus = "Draft"
	CaseReady      CaseStatus = "Ready"
	CaseDeprecated CaseStatus = "Deprecated"
)

// DefaultTestType is used for grouping when a case declares no type.
const DefaultTestType = "Functional"

// Metadata carries the descriptive and environment fields of a test case.
// None of it influences compilation.
type Metadata struct {
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	Type           string     `json:"type,omitempty" yaml:"type,omitempty"`
	Priority       string     `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status         CaseStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Preconditions  string     `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	ExpectedResult string     `json:"expected_result,omitempty" yaml:"expected_result,omitempty"`
	Environment    string     `json:"environment,omitempty" yaml:"environment,omitempty"`
	Browser        string     `json:"browser,omitempty" yaml:"browser,omitempty"`
	DeviceType     string     `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	Tags           []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// TestCase is a titled, ordered list of natural-language steps and assertions.
type TestCase struct {
	ID         int64    `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Steps      []string `json:"steps" yaml:"steps"`
	Assertions []string `json:"assertions" yaml:"assertions"`
	Metadata   `yaml:",inline"`
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// GroupName returns the normalized test type used to group generated files.
func (tc TestCase) GroupName() string {
	t := strings.TrimSpace(tc.Type)
	if t == "" {
		t = DefaultTestType
	}
	return Slugify(t)
}

// Slugify lowercases s and collapses every run of characters outside [a-z0-9_] into a single
// underscore. The result never starts or ends with an underscore.
func Slugify(s string) string {
	slug := nonIdentChars.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(slug, "_")
}
