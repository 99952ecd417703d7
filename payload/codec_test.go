package payload

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(42),
		Int(-7),
		Float(3.25),
		String("hello"),
		String("quotes \" and unicode é"),
		Seq(),
		Seq(Int(1), String("two"), Null(), Seq(Bool(true))),
		Map(map[string]Value{}),
		Map(map[string]Value{
			"x":      Int(1),
			"nested": Map(map[string]Value{"list": Seq(Float(0.5), Int(2))}),
			"flag":   Bool(false),
		}),
	}

	for _, v := range values {
		raw, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", v, err)
		}
		decoded, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", raw, err)
		}
		if !decoded.Equal(v) {
			t.Errorf("round trip mismatch: got %v, want %v", decoded, v)
		}
	}
}

func TestDecodeKeepsNumberLiteral(t *testing.T) {
	raw := []byte(`{"big": 12345678901234567890, "frac": 1.10}`)
	v, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	big, _ := v.Get("big")
	if n, ok := big.AsNumber(); !ok || n != "12345678901234567890" {
		t.Fatalf("expect literal 12345678901234567890, got %q", n)
	}

	out, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"big":12345678901234567890,"frac":1.10}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	v := Map(map[string]Value{"b": Int(2), "a": Int(1), "c": Seq(String("z"))})
	first, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := Encode(v)
		if string(again) != string(first) {
			t.Fatalf("encoding changed: %s vs %s", again, first)
		}
	}
	if string(first) != `{"a":1,"b":2,"c":["z"]}` {
		t.Fatalf("unexpected encoding: %s", first)
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-json",
		`{"x": 1`,
		`{"x": 1}}`,
		`{"x": 1} trailing`,
		`[1, 2,]`,
		`{'x': 1}`,
		"\xff\xfe",
	}

	for _, in := range inputs {
		_, err := Decode([]byte(in))
		if err == nil {
			t.Errorf("Decode(%q): expect error", in)
			continue
		}
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%q): expect ErrMalformedPayload, got %v", in, err)
		}
		var me *MalformedError
		if !errors.As(err, &me) {
			t.Errorf("Decode(%q): expect *MalformedError, got %T", in, err)
		}
	}
}

func TestDecodeAcceptsSurroundingWhitespace(t *testing.T) {
	v, err := Decode([]byte("  \n{\"x\": 1}\n  "))
	if err != nil {
		t.Fatal(err)
	}
	x, ok := v.Get("x")
	if !ok {
		t.Fatal("expect field x")
	}
	if f, _ := x.AsFloat(); f != 1 {
		t.Fatalf("expect x=1, got %v", x)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	v := Map(map[string]Value{"k": Seq(Int(1))})

	fields := v.Fields()
	fields["k"] = String("changed")
	fields["new"] = Null()

	if got, _ := v.Get("k"); got.Kind() != KindSeq {
		t.Fatalf("original value mutated through Fields(): %v", v)
	}
	if v.Len() != 1 {
		t.Fatalf("expect 1 field, got %d", v.Len())
	}

	seq, _ := v.Get("k")
	items := seq.Items()
	items[0] = String("changed")
	if first, _ := seq.Index(0); first.Kind() != KindNumber {
		t.Fatalf("original sequence mutated through Items(): %v", seq)
	}
}

func TestJSONInterop(t *testing.T) {
	type envelope struct {
		Data Value `json:"data"`
	}

	var env envelope
	if err := json.Unmarshal([]byte(`{"data": {"x": [1, true, null]}}`), &env); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"data":{"x":[1,true,null]}}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{"n": 3, "f": 1.5, "s": "x", "l": []any{nil, false}})
	if err != nil {
		t.Fatal(err)
	}
	want := Map(map[string]Value{
		"n": Int(3),
		"f": Float(1.5),
		"s": String("x"),
		"l": Seq(Null(), Bool(false)),
	})
	if !v.Equal(want) {
		t.Fatalf("got %v, want %v", v, want)
	}

	if _, err := FromAny(struct{}{}); err == nil {
		t.Fatal("expect error for unsupported type")
	}
	if _, err := Number("0x10"); err == nil {
		t.Fatal("expect error for non-JSON number literal")
	}
}
