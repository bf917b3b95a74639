package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestInspectLinkPrintsSignedURL(t *testing.T) {
	c := inspectLinkCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--base-url", "https://inspect.example.test", "--secret", "s3cr3t", "slack:C1:T1"})
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "https://inspect.example.test/inspect/slack%3AC1%3AT1?sig=") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestInspectLinkRequiresBaseURLAndSecret(t *testing.T) {
	c := inspectLinkCmd()
	c.SetOut(&bytes.Buffer{})
	c.SetArgs([]string{"slack:C1:T1"})
	if err := c.Execute(); err == nil {
		t.Fatal("expected an error when --base-url/--secret are unset")
	}
}
