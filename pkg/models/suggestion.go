package models

// Suggestion sources.
const (
	SuggestionSourceAI       = "ai"
	SuggestionSourceTemplate = "template"
	SuggestionSourceStored   = "stored"
)

// Suggestion is a remediation attached to at most one issue. Field names follow the
// suggestion functions' wire format.
type Suggestion struct {
	IssueID          string        `json:"issueId,omitempty"`
	IssueDescription string        `json:"issueDescription,omitempty"`
	ImmediateFix     *ImmediateFix `json:"immediateFix,omitempty"`
	BestPractice     *BestPractice `json:"bestPractice,omitempty"`
	Testing          *Testing      `json:"testing,omitempty"`
	Prevention       *Prevention   `json:"prevention,omitempty"`
	Source           string        `json:"source,omitempty"`
	Model            string        `json:"model,omitempty"`
}

type ImmediateFix struct {
	Title       string `json:"title"`
	SearchCode  string `json:"searchCode,omitempty"`
	ReplaceCode string `json:"replaceCode,omitempty"`
	Explanation string `json:"explanation"`
}

type BestPractice struct {
	Title    string   `json:"title"`
	Code     string   `json:"code,omitempty"`
	Benefits []string `json:"benefits,omitempty"`
}

type Testing struct {
	TestCase        string   `json:"testCase,omitempty"`
	ValidationSteps []string `json:"validationSteps,omitempty"`
}

type Prevention struct {
	Guidelines          []string `json:"guidelines,omitempty"`
	Tools               []Tool   `json:"tools,omitempty"`
	CodeReviewChecklist []string `json:"codeReviewChecklist,omitempty"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
