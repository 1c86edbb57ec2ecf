package repository

// Spec types mirror the YAML policy files verbatim. Compilation into
// evaluated rules happens in the service layer.

// ButtonSpec is one inline reply option on an automation output.
type ButtonSpec struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// OutputSpec describes what an automation sends to the lead.
type OutputSpec struct {
	Type     string       `yaml:"type" json:"type"` // message | buttons | media
	Text     string       `yaml:"text" json:"text"`
	Buttons  []ButtonSpec `yaml:"buttons,omitempty" json:"buttons,omitempty"`
	MediaKey string       `yaml:"media_key,omitempty" json:"mediaKey,omitempty"`
	Track    string       `yaml:"track,omitempty" json:"track,omitempty"`
}

// ExpectsReplySpec marks an automation whose answer should be captured
// by the confirmation gate.
type ExpectsReplySpec struct {
	Target string `yaml:"target" json:"target"`
}

// AutomationSpec is one catalog entry.
type AutomationSpec struct {
	ID           string            `yaml:"id" json:"id"`
	Topic        string            `yaml:"topic,omitempty" json:"topic,omitempty"`
	UseWhen      string            `yaml:"use_when,omitempty" json:"useWhen,omitempty"`
	Eligibility  string            `yaml:"eligibility,omitempty" json:"eligibility,omitempty"`
	Priority     float64           `yaml:"priority" json:"priority"`
	Output       OutputSpec        `yaml:"output" json:"output"`
	ExpectsReply *ExpectsReplySpec `yaml:"expects_reply,omitempty" json:"expectsReply,omitempty"`
}

// AutomationRef points a procedure step at a catalog automation.
type AutomationRef struct {
	Automation string `yaml:"automation" json:"automation"`
}

// StepSpec is one step of a procedure funnel.
type StepSpec struct {
	Name      string         `yaml:"name" json:"name"`
	Condition string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	IfMissing *AutomationRef `yaml:"if_missing,omitempty" json:"ifMissing,omitempty"`
	Do        *AutomationRef `yaml:"do,omitempty" json:"do,omitempty"`
}

// ProcedureSpec is a named funnel of ordered steps.
type ProcedureSpec struct {
	ID    string     `yaml:"id" json:"id"`
	Title string     `yaml:"title,omitempty" json:"title,omitempty"`
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// OutcomeSpec describes what happens when a confirmation resolves.
type OutcomeSpec struct {
	Facts      map[string]any `yaml:"facts,omitempty" json:"facts,omitempty"`
	Automation string         `yaml:"automation,omitempty" json:"automation,omitempty"`
	Message    string         `yaml:"message,omitempty" json:"message,omitempty"`
}

// TargetSpec configures one confirmation target.
type TargetSpec struct {
	MaxAgeMinutes int          `yaml:"max_age_minutes,omitempty" json:"maxAgeMinutes,omitempty"`
	OnYes         *OutcomeSpec `yaml:"on_yes,omitempty" json:"onYes,omitempty"`
	OnNo          *OutcomeSpec `yaml:"on_no,omitempty" json:"onNo,omitempty"`
}
