package queue

// IngestFileMsg is the job payload the API server publishes when a case
// file was uploaded and the worker should fold it into the case graph.
type IngestFileMsg struct {
	CaseID   string `json:"case_id"`
	FileID   string `json:"file_id"`
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
}

// CaseEventMsg is broadcast on the case events exchange after a turn was
// merged, so connected clients can refresh their graph view.
type CaseEventMsg struct {
	CaseID       string `json:"case_id"`
	Turn         int    `json:"turn"`
	GraphUpdated bool   `json:"graph_updated"`
	Message      string `json:"message,omitempty"`
}
