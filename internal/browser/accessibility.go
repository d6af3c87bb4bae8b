// internal/browser/accessibility.go
package browser

import (
	"fmt"
	"math"
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// axString decodes a string-typed accessibility value.
func axString(v *accessibility.Value) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(v.Value), &s); err != nil {
		return ""
	}
	return s
}

// findCheckbox returns the first non-ignored checkbox whose accessible name
// contains label, case-insensitively.
func findCheckbox(nodes []*accessibility.Node, label string) (cdp.BackendNodeID, bool) {
	want := strings.ToLower(label)
	for _, n := range nodes {
		if n == nil || n.Ignored || n.BackendDOMNodeID == 0 {
			continue
		}
		if axString(n.Role) != "checkbox" {
			continue
		}
		if strings.Contains(strings.ToLower(axString(n.Name)), want) {
			return n.BackendDOMNodeID, true
		}
	}
	return 0, false
}

// quadBox is the bounding box of a CDP quad (x1,y1,...,x4,y4).
func quadBox(q []float64) (schemas.Box, error) {
	if len(q) < 8 {
		return schemas.Box{}, fmt.Errorf("quad has %d coordinates, want 8", len(q))
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i < 8; i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	return schemas.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
}
