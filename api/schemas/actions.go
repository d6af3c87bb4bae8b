// api/schemas/actions.go
package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// PageActionType is the discriminator of a page action.
type PageActionType string

const (
	ActionNavigate           PageActionType = "navigate"
	ActionClick              PageActionType = "click"
	ActionTypeText           PageActionType = "type"
	ActionWait               PageActionType = "wait"
	ActionScrollToTop        PageActionType = "scrollToTop"
	ActionScrollToBottom     PageActionType = "scrollToBottom"
	ActionRunAutonomousAgent PageActionType = "runAutonomousAgent"
)

// PageAction is one browser-driven step. Every action targets a page slot.
type PageAction interface {
	PageActionType() PageActionType
	// TargetPage returns the page slot the action runs against.
	TargetPage() int
	isPageAction()
}

// Navigate loads a URL. The URL may embed special strings.
type Navigate struct {
	URL       string `json:"url"`
	PageIndex int    `json:"pageIndex,omitempty"`
}

// Click clicks the single element matched by Selectors.
type Click struct {
	Selectors         Selectors `json:"selectors"`
	WaitForNavigation bool      `json:"waitForNavigation,omitempty"`
	// UseGhostCursor routes the click through the humanoid cursor instead of
	// a synthetic DOM click.
	UseGhostCursor bool `json:"useGhostCursor,omitempty"`
	PageIndex      int  `json:"pageIndex,omitempty"`
}

// Type types a resolved value into the single element matched by Selectors.
type Type struct {
	Selectors         Selectors    `json:"selectors"`
	Value             ScraperValue `json:"-"`
	PressEnter        bool         `json:"pressEnter,omitempty"`
	ClearBeforeType   bool         `json:"clearBeforeType,omitempty"`
	WaitForNavigation bool         `json:"waitForNavigation,omitempty"`
	PageIndex         int          `json:"pageIndex,omitempty"`
}

// Wait pauses the execution.
type Wait struct {
	Duration  Duration `json:"duration"`
	PageIndex int      `json:"pageIndex,omitempty"`
}

// ScrollToTop scrolls the page to the top.
type ScrollToTop struct {
	PageIndex int `json:"pageIndex,omitempty"`
}

// ScrollToBottom scrolls the page to the bottom.
type ScrollToBottom struct {
	PageIndex int `json:"pageIndex,omitempty"`
}

// RunAutonomousAgent hands the page to an external agent for a free-form task.
type RunAutonomousAgent struct {
	Task        string `json:"task"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
	UseVision   bool   `json:"useVision,omitempty"`
	PageIndex   int    `json:"pageIndex,omitempty"`
}

func (Navigate) PageActionType() PageActionType           { return ActionNavigate }
func (Click) PageActionType() PageActionType              { return ActionClick }
func (Type) PageActionType() PageActionType               { return ActionTypeText }
func (Wait) PageActionType() PageActionType               { return ActionWait }
func (ScrollToTop) PageActionType() PageActionType        { return ActionScrollToTop }
func (ScrollToBottom) PageActionType() PageActionType     { return ActionScrollToBottom }
func (RunAutonomousAgent) PageActionType() PageActionType { return ActionRunAutonomousAgent }

func (a Navigate) TargetPage() int           { return a.PageIndex }
func (a Click) TargetPage() int              { return a.PageIndex }
func (a Type) TargetPage() int               { return a.PageIndex }
func (a Wait) TargetPage() int               { return a.PageIndex }
func (a ScrollToTop) TargetPage() int        { return a.PageIndex }
func (a ScrollToBottom) TargetPage() int     { return a.PageIndex }
func (a RunAutonomousAgent) TargetPage() int { return a.PageIndex }

func (Navigate) isPageAction()           {}
func (Click) isPageAction()              {}
func (Type) isPageAction()               {}
func (Wait) isPageAction()               {}
func (ScrollToTop) isPageAction()        {}
func (ScrollToBottom) isPageAction()     {}
func (RunAutonomousAgent) isPageAction() {}

// MutatesPage reports whether the action can change the page and therefore
// needs a captcha check afterwards.
func MutatesPage(a PageAction) bool {
	_, isWait := a.(Wait)
	return !isWait
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Type) UnmarshalJSON(data []byte) error {
	type alias Type
	var raw struct {
		alias
		Value jsoniter.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := decodeValue(raw.Value)
	if err != nil {
		return fmt.Errorf("type.value: %w", err)
	}
	*a = Type(raw.alias)
	a.Value = value
	return nil
}

// DescribeAction renders a page action for execution records.
func DescribeAction(a PageAction) string {
	switch t := a.(type) {
	case Navigate:
		return "navigate(" + t.URL + ")"
	case Click:
		return "click(" + t.Selectors.String() + ")"
	case Type:
		return "type(" + t.Selectors.String() + ", " + DescribeValue(t.Value) + ")"
	case Wait:
		return "wait(" + t.Duration.Std().String() + ")"
	case ScrollToTop:
		return "scrollToTop"
	case ScrollToBottom:
		return "scrollToBottom"
	case RunAutonomousAgent:
		return "runAutonomousAgent(" + t.Task + ")"
	default:
		return "<none>"
	}
}

func decodePageAction(raw []byte) (PageAction, error) {
	typ, err := peekType(raw)
	if err != nil {
		return nil, err
	}
	switch PageActionType(typ) {
	case ActionNavigate:
		var v Navigate
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionClick:
		var v Click
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionTypeText:
		var v Type
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionWait:
		var v Wait
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionScrollToTop:
		var v ScrollToTop
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionScrollToBottom:
		var v ScrollToBottom
		err = json.Unmarshal(raw, &v)
		return v, err
	case ActionRunAutonomousAgent:
		var v RunAutonomousAgent
		err = json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown page action type %q", typ)
	}
}
