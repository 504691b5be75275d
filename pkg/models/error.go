package models

// ErrorBody is the uniform error shape for query and dashboard endpoints.
type ErrorBody struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}
