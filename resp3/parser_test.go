package resp3_test

import (
	"errors"
	"testing"

	"github.com/mickamy/govalkey/resp3"
)

func TestParse_Scalars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantN   int
		wantErr bool
	}{
		{"simple string", "+OK\r\n", 5, false},
		{"simple error", "-ERR bad\r\n", 10, false},
		{"integer", ":1000\r\n", 7, false},
		{"negative integer", ":-1\r\n", 5, false},
		{"bad integer", ":12x\r\n", 0, true},
		{"double", ",3.14\r\n", 7, false},
		{"double inf", ",inf\r\n", 6, false},
		{"bad double", ",abc\r\n", 0, true},
		{"boolean true", "#t\r\n", 4, false},
		{"boolean false", "#f\r\n", 4, false},
		{"bad boolean", "#x\r\n", 0, true},
		{"null", "_\r\n", 3, false},
		{"big number", "(3492890328409238509324850943850943825024385\r\n", 46, false},
		{"negative big number", "(-3492890328409238509324850943850943825024385\r\n", 47, false},
		{"bad big number", "(12.5\r\n", 0, true},
		{"bulk string", "$5\r\nhello\r\n", 11, false},
		{"null bulk string", "$-1\r\n", 5, false},
		{"verbatim string", "=15\r\ntxt:Some string\r\n", 22, false},
		{"verbatim missing colon", "=15\r\ntxtxSome string\r\n", 0, true},
		{"unknown leading byte", "^nope\r\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok, n, err := resp3.Parse([]byte(tt.in))
			if tt.wantErr {
				if err == nil || errors.Is(err, resp3.ErrNeedMore) {
					t.Fatalf("Parse(%q) = _, _, %v; want parse error", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) = _, _, %v; want nil", tt.in, err)
			}
			if n != tt.wantN {
				t.Errorf("Parse(%q) consumed %d bytes; want %d", tt.in, n, tt.wantN)
			}
			if string(tok.Bytes()) != tt.in[:n] {
				t.Errorf("token bytes %q != input slice %q", tok.Bytes(), tt.in[:n])
			}
		})
	}
}

func TestParse_NeedMore(t *testing.T) {
	t.Parallel()

	tests := []string{
		"",
		"+OK",
		"+OK\r",
		"$5\r\nhel",
		"*2\r\n:1\r\n",
	}
	for _, in := range tests {
		_, _, err := resp3.Parse([]byte(in))
		if !errors.Is(err, resp3.ErrNeedMore) {
			t.Errorf("Parse(%q) err = %v; want ErrNeedMore", in, err)
		}
	}
}

func TestParse_BulkStringExample(t *testing.T) {
	t.Parallel()

	tok, n, err := resp3.Parse([]byte("$5\r\nhello\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != 11 {
		t.Fatalf("n = %d, want 11", n)
	}
	v := resp3.ValueOf(tok)
	s, err := v.AsString()
	if err != nil {
		t.Fatalf("AsString: %v", err)
	}
	if s != "hello" {
		t.Fatalf("AsString = %q, want %q", s, "hello")
	}
}

func TestParse_NullArray(t *testing.T) {
	t.Parallel()

	tok, n, err := resp3.Parse([]byte("*-1\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}
	v := resp3.ValueOf(tok)
	if !v.IsNull() {
		t.Fatalf("IsNull = false, want true")
	}
}

func TestParse_NestedAggregate(t *testing.T) {
	t.Parallel()

	in := "*2\r\n:1\r\n*2\r\n+ok\r\n$3\r\nfoo\r\n"
	tok, n, err := resp3.Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != len(in) {
		t.Fatalf("n = %d, want %d", n, len(in))
	}

	outer := resp3.ValueOf(tok)
	if outer.Kind() != resp3.KindArray || outer.Len() != 2 {
		t.Fatalf("outer kind/len = %v/%d", outer.Kind(), outer.Len())
	}

	it, err := outer.AsArray()
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}

	first, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("first element: ok=%v err=%v", ok, err)
	}
	n1, err := first.AsInt64()
	if err != nil || n1 != 1 {
		t.Fatalf("first = %d, %v; want 1, nil", n1, err)
	}

	second, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("second element: ok=%v err=%v", ok, err)
	}
	if second.Kind() != resp3.KindArray || second.Len() != 2 {
		t.Fatalf("second kind/len = %v/%d", second.Kind(), second.Len())
	}
	inner, err := second.AsArray()
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}
	simple, _, err := inner.Next()
	if err != nil {
		t.Fatalf("inner[0]: %v", err)
	}
	simpleStr, err := simple.AsString()
	if err != nil || simpleStr != "ok" {
		t.Fatalf("inner[0] = %q, %v; want ok, nil", simpleStr, err)
	}
	bulk, _, err := inner.Next()
	if err != nil {
		t.Fatalf("inner[1]: %v", err)
	}
	bulkStr, err := bulk.AsString()
	if err != nil || bulkStr != "foo" {
		t.Fatalf("inner[1] = %q, %v; want foo, nil", bulkStr, err)
	}

	if _, ok, _ := it.Next(); ok {
		t.Fatalf("outer iterator should be exhausted")
	}
}

func TestParseAll(t *testing.T) {
	t.Parallel()

	in := []byte("+OK\r\n$3\r\nfoo\r\n:42")
	var got []string
	rest, err := resp3.ParseAll(in, func(tok resp3.Token) error {
		got = append(got, string(tok.Bytes()))
		return nil
	})
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if string(rest) != ":42" {
		t.Fatalf("rest = %q, want %q", rest, ":42")
	}
	want := []string{"+OK\r\n", "$3\r\nfoo\r\n"}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParse_TooDeeplyNested(t *testing.T) {
	t.Parallel()

	in := make([]byte, 0, 2*(resp3.MaxNestingDepth+5)+16)
	for i := 0; i < resp3.MaxNestingDepth+5; i++ {
		in = append(in, "*1\r\n"...)
	}
	in = append(in, ":1\r\n"...)

	_, _, err := resp3.Parse(in)
	if err == nil {
		t.Fatalf("Parse of over-deep aggregate succeeded, want error")
	}
	var pe *resp3.ParseError
	if !errors.As(err, &pe) || pe.Kind != resp3.TooDeeplyNestedAggregates {
		t.Fatalf("err = %v, want TooDeeplyNestedAggregates", err)
	}
}
