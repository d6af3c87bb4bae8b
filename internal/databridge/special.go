// internal/databridge/special.go
package databridge

import (
	"context"
	"regexp"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// MaxSpecialStringDepth bounds the number of substitution passes, so data that
// references itself cannot loop forever.
const MaxSpecialStringDepth = 10

var specialStringPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+)\s*\}\}`)

// Getter is the read side of a Bridge.
type Getter interface {
	Get(ctx context.Context, key string) (schemas.Scalar, error)
}

// HasSpecialString reports whether s contains at least one {{source.column}} token.
func HasSpecialString(s string) bool { return specialStringPattern.MatchString(s) }

// ResolveSpecialString substitutes {{source.column}} tokens with values read
// through g. Substituted values may contain tokens themselves; passes repeat
// until none are left or MaxSpecialStringDepth is reached, after which
// remaining tokens are dropped. Unresolvable keys become "".
func ResolveSpecialString(ctx context.Context, g Getter, s string) string {
	for depth := 0; depth < MaxSpecialStringDepth; depth++ {
		if !specialStringPattern.MatchString(s) {
			return s
		}
		s = specialStringPattern.ReplaceAllStringFunc(s, func(token string) string {
			key := specialStringPattern.FindStringSubmatch(token)[1]
			v, err := g.Get(ctx, key)
			if err != nil {
				return ""
			}
			return schemas.ScalarString(v)
		})
	}
	return specialStringPattern.ReplaceAllString(s, "")
}
