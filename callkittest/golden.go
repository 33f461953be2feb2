package callkittest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden compares body against testdata/golden/<name>.golden. JSON bodies
// are indented first so fixtures diff cleanly. Run tests with -update to
// rewrite fixtures.
func Golden(t *testing.T, name string, body []byte) {
	t.Helper()
	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			buf.WriteByte('\n')
			body = buf.Bytes()
		}
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, body)
}
