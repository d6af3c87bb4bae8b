// api/schemas/instructions.go
package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// InstructionType is the discriminator of an instruction node.
type InstructionType string

const (
	InstructionPageAction    InstructionType = "pageAction"
	InstructionCondition     InstructionType = "condition"
	InstructionSaveData      InstructionType = "saveData"
	InstructionSaveDataBatch InstructionType = "saveDataBatch"
	InstructionDeleteData    InstructionType = "deleteData"
	InstructionMarker        InstructionType = "marker"
	InstructionJump          InstructionType = "jump"
	InstructionDeleteCookies InstructionType = "deleteCookies"
	InstructionSystemAction  InstructionType = "systemAction"
)

// Instruction is one node of an executable scraper program.
type Instruction interface {
	InstructionType() InstructionType
	isInstruction()
}

// PageActionInstruction wraps a browser-driven action.
type PageActionInstruction struct {
	Action PageAction `json:"-"`
}

// ConditionInstruction branches on a condition. Both branches are nested lists.
type ConditionInstruction struct {
	If   Condition    `json:"-"`
	Then Instructions `json:"then"`
	Else Instructions `json:"else,omitempty"`
}

// SaveData writes one value to a "source.column" key.
type SaveData struct {
	DataKey string       `json:"dataKey"`
	Value   ScraperValue `json:"-"`
}

// SaveDataBatchItem is one column assignment of a SaveDataBatch.
type SaveDataBatchItem struct {
	ColumnName string       `json:"columnName"`
	Value      ScraperValue `json:"-"`
}

// SaveDataBatch writes several columns of one row in a single operation.
type SaveDataBatch struct {
	DataSourceName string              `json:"dataSourceName"`
	Items          []SaveDataBatchItem `json:"items"`
}

// DeleteData deletes the row under the cursor of the named source.
type DeleteData struct {
	DataSourceName string `json:"dataSourceName"`
}

// Marker is a named no-op landing point for Jump.
type Marker struct {
	Name string `json:"name"`
}

// Jump transfers control to the Marker with the given name.
type Jump struct {
	MarkerName string `json:"markerName"`
}

// DeleteCookies clears all browser cookies.
type DeleteCookies struct{}

// SystemActionType names an opaque process-level side effect.
type SystemActionType string

const (
	SystemActionShowNotification SystemActionType = "showNotification"
	SystemActionExecuteCommand   SystemActionType = "executeCommand"
)

// SystemAction delegates an opaque side effect to the process-level dispatcher.
type SystemAction struct {
	Action  SystemActionType  `json:"action"`
	Payload map[string]string `json:"payload,omitempty"`
}

func (PageActionInstruction) InstructionType() InstructionType { return InstructionPageAction }
func (ConditionInstruction) InstructionType() InstructionType  { return InstructionCondition }
func (SaveData) InstructionType() InstructionType              { return InstructionSaveData }
func (SaveDataBatch) InstructionType() InstructionType         { return InstructionSaveDataBatch }
func (DeleteData) InstructionType() InstructionType            { return InstructionDeleteData }
func (Marker) InstructionType() InstructionType                { return InstructionMarker }
func (Jump) InstructionType() InstructionType                  { return InstructionJump }
func (DeleteCookies) InstructionType() InstructionType         { return InstructionDeleteCookies }
func (SystemAction) InstructionType() InstructionType          { return InstructionSystemAction }

func (PageActionInstruction) isInstruction() {}
func (ConditionInstruction) isInstruction()  {}
func (SaveData) isInstruction()              {}
func (SaveDataBatch) isInstruction()         {}
func (DeleteData) isInstruction()            {}
func (Marker) isInstruction()                {}
func (Jump) isInstruction()                  {}
func (DeleteCookies) isInstruction()         {}
func (SystemAction) isInstruction()          {}

// Instructions is an ordered instruction list. Nested lists form the tree.
type Instructions []Instruction

// UnmarshalJSON implements json.Unmarshaler.
func (l *Instructions) UnmarshalJSON(data []byte) error {
	var raws []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("instructions must be a list: %w", err)
	}
	out := make(Instructions, 0, len(raws))
	for i, raw := range raws {
		instr, err := decodeInstruction(raw)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, instr)
	}
	*l = out
	return nil
}

// ParseInstructions decodes an instruction tree from its JSON form.
func ParseInstructions(data []byte) (Instructions, error) {
	var l Instructions
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PageActionInstruction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Action jsoniter.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Action) == 0 {
		return fmt.Errorf("pageAction requires an \"action\"")
	}
	action, err := decodePageAction(raw.Action)
	if err != nil {
		return fmt.Errorf("pageAction.action: %w", err)
	}
	p.Action = action
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ConditionInstruction) UnmarshalJSON(data []byte) error {
	var raw struct {
		If   jsoniter.RawMessage `json:"if"`
		Then Instructions        `json:"then"`
		Else Instructions        `json:"else"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.If) == 0 {
		return fmt.Errorf("condition requires an \"if\"")
	}
	cond, err := decodeCondition(raw.If)
	if err != nil {
		return fmt.Errorf("condition.if: %w", err)
	}
	c.If = cond
	c.Then = raw.Then
	c.Else = raw.Else
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SaveData) UnmarshalJSON(data []byte) error {
	var raw struct {
		DataKey string              `json:"dataKey"`
		Value   jsoniter.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := decodeValue(raw.Value)
	if err != nil {
		return fmt.Errorf("saveData.value: %w", err)
	}
	if value == nil {
		value = Null{}
	}
	s.DataKey = raw.DataKey
	s.Value = value
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *SaveDataBatchItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ColumnName string              `json:"columnName"`
		Value      jsoniter.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := decodeValue(raw.Value)
	if err != nil {
		return fmt.Errorf("saveDataBatch item %q: %w", raw.ColumnName, err)
	}
	if value == nil {
		value = Null{}
	}
	i.ColumnName = raw.ColumnName
	i.Value = value
	return nil
}

func decodeInstruction(raw []byte) (Instruction, error) {
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch InstructionType(typ) {
	case InstructionPageAction:
		var v PageActionInstruction
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionCondition:
		var v ConditionInstruction
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionSaveData:
		var v SaveData
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionSaveDataBatch:
		var v SaveDataBatch
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionDeleteData:
		var v DeleteData
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionMarker:
		var v Marker
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionJump:
		var v Jump
		err = json.Unmarshal(raw, &v)
		return v, err
	case InstructionDeleteCookies:
		return DeleteCookies{}, nil
	case InstructionSystemAction:
		var v SystemAction
		err = json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown instruction type %q", typ)
	}
}

// Describe renders an instruction for execution records and logs.
func Describe(instr Instruction) string {
	switch t := instr.(type) {
	case PageActionInstruction:
		return DescribeAction(t.Action)
	case ConditionInstruction:
		return "if " + DescribeCondition(t.If)
	case SaveData:
		return "save " + t.DataKey + " = " + DescribeValue(t.Value)
	case SaveDataBatch:
		return fmt.Sprintf("saveBatch %s (%d columns)", t.DataSourceName, len(t.Items))
	case DeleteData:
		return "delete " + t.DataSourceName
	case Marker:
		return "marker " + t.Name
	case Jump:
		return "jump " + t.MarkerName
	case DeleteCookies:
		return "deleteCookies"
	case SystemAction:
		return "system " + string(t.Action)
	default:
		return "<none>"
	}
}
