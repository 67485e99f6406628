package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTextReporterFormatsEvents(t *testing.T) {
	var buf bytes.Buffer
	r := &TextReporter{Out: &buf}

	r.Planning([]string{"jq@1.7.1"})
	r.Downloading("jq", 512, 1024)
	r.Done("jq", "1.7.1", 1024)
	r.Failed("oniguruma", errors.New("boom"))
	r.Summary("installed", 1, 0.42)

	out := buf.String()
	for _, want := range []string{"Planning", "jq", "512/1024", "Done: jq@1.7.1", "Failed: oniguruma: boom", "installed 1 package(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}
