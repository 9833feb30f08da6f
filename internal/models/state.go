package models

// PersistedState is the single durable record, rewritten wholesale on every
// mutating operation.
type PersistedState struct {
	JobQueue   []JobRecord `json:"jobQueue"`
	CurrentJob *JobRecord  `json:"currentJob"`
	Config     *Settings   `json:"config"`
}
