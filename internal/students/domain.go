package students

import "time"

// Status enumerates enrollment statuses.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusInactive    Status = "INACTIVE"
	StatusGraduated   Status = "GRADUATED"
	StatusTransferred Status = "TRANSFERRED"
)

// TransportMode enumerates how a student commutes. Walking students are not
// billed transport fees.
type TransportMode string

const (
	TransportWalking TransportMode = "WALKING"
	TransportBus     TransportMode = "BUS"
	TransportPrivate TransportMode = "PRIVATE"
)

// Student is the directory record the billing core reads. The billing core
// never mutates students apart from the fee snapshot, which lives in ledger.
type Student struct {
	ID          int64
	AdmissionNo string
	FullName    string
	GradeLabel  string
	Status      Status
	Transport   TransportMode
	GuardianSMS string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsesTransport reports whether transport fees apply.
func (s Student) UsesTransport() bool {
	return s.Transport != TransportWalking && s.Transport != ""
}
