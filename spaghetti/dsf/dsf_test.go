package dsf

import "testing"

func TestUndefinedIsCanonical(t *testing.T) {
	if !IsUndefined(Undefined()) {
		t.Fatalf("Undefined() is not recognised as undefined")
	}
	if IsUndefined(FromInt(0)) {
		t.Fatalf("zero incorrectly treated as undefined")
	}
}

func TestDivByZeroIsUndefined(t *testing.T) {
	a := FromInt(10)
	b := FromInt(0)
	if !IsUndefined(Div(a, b)) {
		t.Fatalf("division by zero did not produce undefined")
	}
}

func TestLnOfNonPositiveIsUndefined(t *testing.T) {
	if !IsUndefined(Ln(FromInt(0))) {
		t.Fatalf("Ln(0) did not produce undefined")
	}
	if !IsUndefined(Ln(FromInt(-5))) {
		t.Fatalf("Ln(-5) did not produce undefined")
	}
}

func TestAddSubRoundTrip(t *testing.T) {
	a := FromInt(1234)
	b := FromInt(4321)
	sum := Add(a, b)
	back := Sub(sum, b)
	fa, ok1 := toFixed(a)
	fb, ok2 := toFixed(back)
	if !ok1 || !ok2 {
		t.Fatalf("conversion to fixed failed")
	}
	delta := fa - fb
	if delta < -4 || delta > 4 {
		t.Fatalf("Add/Sub round trip drifted too far: %d vs %d", fa, fb)
	}
}

func TestSinBounded(t *testing.T) {
	for _, v := range []int32{0, 1, 2, 100, -100} {
		res := Sin(FromInt(v))
		if IsUndefined(res) {
			t.Fatalf("Sin(%d) unexpectedly undefined", v)
		}
		fx, ok := toFixed(res)
		if !ok {
			t.Fatalf("Sin(%d) result not representable", v)
		}
		if fx > 2*fixedOne || fx < -2*fixedOne {
			t.Fatalf("Sin(%d) out of expected bound: %d", v, fx)
		}
	}
}

func TestDeterministic(t *testing.T) {
	a := Exp(FromInt(3))
	b := Exp(FromInt(3))
	if a != b {
		t.Fatalf("Exp is not deterministic")
	}
}
