package models

// Program is a school's training program and the credentials it requires.
type Program struct {
	ID           string   `json:"id"`
	SchoolID     string   `json:"schoolId"`
	Requirements []string `json:"requirements"`
}

// Student is the engine's view of a trainee: program membership plus the
// cumulative completed-hours counter maintained by clock-out.
type Student struct {
	ID             string  `json:"id"`
	ProgramID      string  `json:"programId"`
	CompletedHours float64 `json:"completedHours"`
}
