package protocol

import (
	"encoding/base64"
	"encoding/xml"
	"math"
	"time"

	"github.com/dreamware/solvegrid/internal/cluster"
)

// Kind names a message type. It is also the root element of the encoded document.
type Kind string

const (
	KindRegister             Kind = "Register"
	KindRegisterResponse     Kind = "RegisterResponse"
	KindStatus               Kind = "Status"
	KindSolveRequest         Kind = "SolveRequest"
	KindSolveRequestResponse Kind = "SolveRequestResponse"
	KindDivideProblem        Kind = "DivideProblem"
	KindPartialProblems      Kind = "SolvePartialProblems"
	KindSolutions            Kind = "Solutions"
	KindSolutionRequest      Kind = "SolutionRequest"
)

func (k Kind) String() string { return string(k) }

// Message is implemented by every type in the catalog and nothing else.
type Message interface {
	Kind() Kind
	sealed()
}

// SolutionType is the progress of one task-level solution.
type SolutionType string

const (
	// SolutionOngoing marks a seeded record nothing has been computed for yet.
	SolutionOngoing SolutionType = "Ongoing"
	SolutionPartial SolutionType = "Partial"
	SolutionFinal   SolutionType = "Final"
)

// Blob is an opaque payload, base64 encoded inside its element.
type Blob []byte

// MarshalText implements encoding.TextMarshaler.
func (b Blob) MarshalText() ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Blob) UnmarshalText(text []byte) error {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(out, text)
	if err != nil {
		return err
	}
	*b = out[:n]
	return nil
}

// Millis converts a duration to the millisecond integers used on the wire.
func Millis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// Duration converts a wire millisecond value back to a time.Duration. Values
// too large for a Duration saturate at the largest whole millisecond.
func Duration(ms uint64) time.Duration {
	if ms > uint64(maxMillis) {
		ms = uint64(maxMillis)
	}
	return time.Duration(ms) * time.Millisecond
}

// Register is sent by a node announcing its role and capabilities.
type Register struct {
	XMLName          xml.Name     `xml:"Register"`
	Type             cluster.Role `xml:"Type"`
	SolvableProblems []string     `xml:"SolvableProblems>ProblemName"`
	ParallelThreads  uint8        `xml:"ParallelThreads"`
}

// RegisterResponse carries the id the coordinator assigned and its liveness timeout.
type RegisterResponse struct {
	XMLName xml.Name `xml:"RegisterResponse"`
	ID      uint64   `xml:"Id"`
	Timeout uint64   `xml:"Timeout"` // milliseconds
}

// StatusThread reports what one worker thread is doing.
type StatusThread struct {
	State             cluster.ThreadState `xml:"State"`
	HowLong           uint64              `xml:"HowLong"` // milliseconds
	ProblemInstanceID uint64              `xml:"ProblemInstanceId,omitempty"`
	TaskID            uint64              `xml:"TaskId"`
	ProblemType       string              `xml:"ProblemType,omitempty"`
}

// Status is the heartbeat a node sends; the reply is its next assignment, if any.
type Status struct {
	XMLName xml.Name       `xml:"Status"`
	ID      uint64         `xml:"Id"`
	Threads []StatusThread `xml:"Threads>Thread"`
}

// SolveRequest asks the cluster to solve a problem.
type SolveRequest struct {
	XMLName        xml.Name `xml:"SolveRequest"`
	ProblemType    string   `xml:"ProblemType"`
	SolvingTimeout uint64   `xml:"SolvingTimeout,omitempty"` // milliseconds
	Data           Blob     `xml:"Data"`
}

// SolveRequestResponse returns the problem id; 0 means the request was not accepted.
type SolveRequestResponse struct {
	XMLName xml.Name `xml:"SolveRequestResponse"`
	ID      uint64   `xml:"Id"`
}

// DivideProblem hands an undivided problem to a TaskManager.
type DivideProblem struct {
	XMLName            xml.Name `xml:"DivideProblem"`
	ProblemType        string   `xml:"ProblemType"`
	ID                 uint64   `xml:"Id"`
	Data               Blob     `xml:"Data"`
	ComputationalNodes uint64   `xml:"ComputationalNodes"`
}

// PartialProblem is one task of a divided problem.
type PartialProblem struct {
	TaskID uint64 `xml:"TaskId"`
	Data   Blob   `xml:"Data"`
}

// PartialProblems is a divided problem. TaskManagers send it to the coordinator
// and the coordinator hands slices of it to ComputationalNodes.
type PartialProblems struct {
	XMLName         xml.Name         `xml:"SolvePartialProblems"`
	ProblemType     string           `xml:"ProblemType"`
	ID              uint64           `xml:"Id"`
	CommonData      Blob             `xml:"CommonData,omitempty"`
	SolvingTimeout  uint64           `xml:"SolvingTimeout,omitempty"` // milliseconds
	PartialProblems []PartialProblem `xml:"PartialProblems>PartialProblem"`
}

// Solution is the task-level result carried by a Solutions message.
type Solution struct {
	TaskID           uint64       `xml:"TaskId"`
	TimeoutOccured   bool         `xml:"TimeoutOccured"`
	Type             SolutionType `xml:"Type"`
	ComputationsTime uint64       `xml:"ComputationsTime"` // milliseconds
	Data             Blob         `xml:"Data,omitempty"`
}

// Solutions reports task results for one problem.
type Solutions struct {
	XMLName     xml.Name   `xml:"Solutions"`
	ProblemType string     `xml:"ProblemType"`
	ID          uint64     `xml:"Id"`
	CommonData  Blob       `xml:"CommonData,omitempty"`
	Solutions   []Solution `xml:"Solutions>Solution"`
}

// SolutionRequest asks for the current solutions of a problem.
type SolutionRequest struct {
	XMLName xml.Name `xml:"SolutionRequest"`
	ID      uint64   `xml:"Id"`
}

func (*Register) Kind() Kind             { return KindRegister }
func (*RegisterResponse) Kind() Kind     { return KindRegisterResponse }
func (*Status) Kind() Kind               { return KindStatus }
func (*SolveRequest) Kind() Kind         { return KindSolveRequest }
func (*SolveRequestResponse) Kind() Kind { return KindSolveRequestResponse }
func (*DivideProblem) Kind() Kind        { return KindDivideProblem }
func (*PartialProblems) Kind() Kind      { return KindPartialProblems }
func (*Solutions) Kind() Kind            { return KindSolutions }
func (*SolutionRequest) Kind() Kind      { return KindSolutionRequest }

func (*Register) sealed()             {}
func (*RegisterResponse) sealed()     {}
func (*Status) sealed()               {}
func (*SolveRequest) sealed()         {}
func (*SolveRequestResponse) sealed() {}
func (*DivideProblem) sealed()        {}
func (*PartialProblems) sealed()      {}
func (*Solutions) sealed()            {}
func (*SolutionRequest) sealed()      {}
