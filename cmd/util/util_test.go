package util

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/store/imap"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line exceeds %d characters: %q", Wrap, line)
		}
	}
	if WrapString("") != "" {
		t.Errorf("expected empty result for empty input")
	}
}

func TestValueCodecs(t *testing.T) {
	for _, name := range []string{"string", "json", "msgpack"} {
		c, err := ValueCodec(name)
		if err != nil {
			t.Fatalf("ValueCodec(%s) failed: %v", name, err)
		}

		value := ParseValue(name, `{"name":"alice","age":42}`)
		b, err := c.Encode(value)
		if err != nil {
			t.Fatalf("(%s) encode failed: %v", name, err)
		}
		decoded, err := c.Decode(b)
		if err != nil {
			t.Fatalf("(%s) decode failed: %v", name, err)
		}

		// key order of structured values is not preserved, compare the fields
		out := FormatValue(decoded)
		for _, part := range []string{`"name":"alice"`, `"age":42`} {
			if !strings.Contains(out, part) {
				t.Errorf("(%s) expected %s in %s", name, part, out)
			}
		}
	}

	if _, err := ValueCodec("yaml"); err == nil {
		t.Errorf("expected an error for an unknown codec")
	}
}

func TestParseValue(t *testing.T) {
	if v := ParseValue("string", "42"); v != "42" {
		t.Errorf("string codec must keep the raw argument, got %#v", v)
	}
	if v := ParseValue("json", "42"); v != float64(42) {
		t.Errorf("json codec must parse numbers, got %#v", v)
	}
	if v := ParseValue("json", "not json"); v != "not json" {
		t.Errorf("invalid json must fall back to the raw argument, got %#v", v)
	}
}

func TestConfigString(t *testing.T) {
	conf := &Config{
		Dir:              "",
		LogLevel:         "info",
		Consistency:      imap.ConsistencyLazy,
		Codec:            "json",
		TargetMaxStale:   time.Second,
		TargetMinStale:   100 * time.Millisecond,
		CorruptionPolicy: index.CorruptionRebuild,
	}
	out := conf.String()
	for _, part := range []string{"<memory>", "lazy", "json", "rebuild", "info"} {
		if !strings.Contains(out, part) {
			t.Errorf("expected %q in config output:\n%s", part, out)
		}
	}

	opts := conf.MapOptions()
	if opts.Path != "" || opts.Consistency != imap.ConsistencyLazy || opts.CorruptionPolicy != index.CorruptionRebuild {
		t.Errorf("unexpected map options: %+v", opts)
	}
	if opts.TargetMaxStale != time.Second || opts.TargetMinStale != 100*time.Millisecond {
		t.Errorf("stale targets not applied: %+v", opts)
	}
}
