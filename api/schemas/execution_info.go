// api/schemas/execution_info.go
package schemas

import "time"

// ExecutionInfoType is the discriminator of an execution record.
type ExecutionInfoType string

const (
	InfoPageOpened            ExecutionInfoType = "pageOpened"
	InfoInstruction           ExecutionInfoType = "instruction"
	InfoExternalDataOperation ExecutionInfoType = "externalDataOperation"
	InfoSuccess               ExecutionInfoType = "success"
	InfoError                 ExecutionInfoType = "error"
)

// DataOperation names a data bridge call.
type DataOperation string

const (
	DataGet     DataOperation = "get"
	DataSet     DataOperation = "set"
	DataSetMany DataOperation = "setMany"
	DataDelete  DataOperation = "delete"
)

// ExecutionInfo is one append-only record of an execution.
type ExecutionInfo struct {
	Type      ExecutionInfoType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      any               `json:"data"`
}

// PageOpenedInfo is emitted once per page slot.
type PageOpenedInfo struct {
	PageIndex int    `json:"pageIndex"`
	PortalURL string `json:"portalUrl,omitempty"`
}

// InstructionInfo describes one executed instruction.
type InstructionInfo struct {
	Kind    InstructionType `json:"kind"`
	Summary string          `json:"summary"`
	// IsMet is only set for conditions.
	IsMet    *bool         `json:"isMet,omitempty"`
	Level    int           `json:"level"`
	Duration time.Duration `json:"duration"`
}

// ExternalDataOperationInfo describes one data bridge call.
type ExternalDataOperationInfo struct {
	Operation  DataOperation `json:"operation"`
	Key        string        `json:"key,omitempty"`
	SourceName string        `json:"sourceName,omitempty"`
	Value      any           `json:"value,omitempty"`
}

// SuccessInfo terminates a successful execution.
type SuccessInfo struct {
	Duration time.Duration `json:"duration"`
}

// ErrorInfo terminates a failed execution.
type ErrorInfo struct {
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// NewPageOpened builds a PageOpened record.
func NewPageOpened(pageIndex int, portalURL string) ExecutionInfo {
	return ExecutionInfo{Type: InfoPageOpened, Timestamp: time.Now(), Data: PageOpenedInfo{PageIndex: pageIndex, PortalURL: portalURL}}
}

// NewInstructionInfo builds an Instruction record.
func NewInstructionInfo(instr Instruction, level int, isMet *bool, d time.Duration) ExecutionInfo {
	return ExecutionInfo{
		Type:      InfoInstruction,
		Timestamp: time.Now(),
		Data: InstructionInfo{
			Kind:     instr.InstructionType(),
			Summary:  Describe(instr),
			IsMet:    isMet,
			Level:    level,
			Duration: d,
		},
	}
}

// NewDataOperation builds an ExternalDataOperation record.
func NewDataOperation(op ExternalDataOperationInfo) ExecutionInfo {
	return ExecutionInfo{Type: InfoExternalDataOperation, Timestamp: time.Now(), Data: op}
}

// NewSuccess builds the terminal Success record.
func NewSuccess(d time.Duration) ExecutionInfo {
	return ExecutionInfo{Type: InfoSuccess, Timestamp: time.Now(), Data: SuccessInfo{Duration: d}}
}

// NewError builds the terminal Error record.
func NewError(message string, d time.Duration) ExecutionInfo {
	return ExecutionInfo{Type: InfoError, Timestamp: time.Now(), Data: ErrorInfo{Message: message, Duration: d}}
}

// IsTerminal reports whether the record ends an execution.
func (e ExecutionInfo) IsTerminal() bool {
	return e.Type == InfoSuccess || e.Type == InfoError
}
