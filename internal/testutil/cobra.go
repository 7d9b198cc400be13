package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// Execute runs c with args and returns everything written to its output
// and error streams.
func Execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetArgs(args)
	t.Cleanup(func() {
		c.SetOut(nil)
		c.SetErr(nil)
		c.SetArgs(nil)
	})

	err := c.Execute()
	return strings.TrimSpace(buf.String()), err
}
