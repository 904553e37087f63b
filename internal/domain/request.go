package domain

// TriggerRequest asks the engine to run one exported entry point of a file.
type TriggerRequest struct {
	File       string `json:"file"`
	ExportName string `json:"exportName"`
}

// TriggerResponse is returned once a trigger has been accepted.
type TriggerResponse struct {
	OK         bool   `json:"ok"`
	File       string `json:"file"`
	ExportName string `json:"exportName"`
}

// NewEvalRequest asks the engine to replay the idle step with a new prompt.
type NewEvalRequest struct {
	Prompt string `json:"prompt"`
}

// ExportDetails lists the exports of one script file and the subset that are
// runnable entry points.
type ExportDetails struct {
	MatchingExports []string `json:"matchingExports"`
	AllExports      []string `json:"allExports"`
}

// FilesResponse maps script file paths to their export details.
type FilesResponse struct {
	Files map[string]ExportDetails `json:"files"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
