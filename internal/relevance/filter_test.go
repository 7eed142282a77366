package relevance

import (
	"reflect"
	"strings"
	"testing"
)

func TestMatch_ListOrderNotOccurrenceOrder(t *testing.T) {
	f := New([]string{"Siemens", "PLC", "Modbus"})

	got := f.Match("A buffer overflow in the PLC firmware shipped by Siemens")
	want := []string{"Siemens", "PLC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	f := New([]string{"SCADA", "water treatment"})

	got := f.Match("Affects scada gateways used in WATER TREATMENT facilities")
	want := []string{"SCADA", "water treatment"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestMatch_SubstringNotTokenized(t *testing.T) {
	f := New([]string{"OT"})

	// "OT" is matched inside ordinary words; the pre-screen is deliberately
	// coarse and the oracle makes the final call.
	if got := f.Match("a remote attacker"); !reflect.DeepEqual(got, []string{"OT"}) {
		t.Errorf("Match() = %v, want [OT]", got)
	}
}

func TestMatch_DefaultTermsSiemensScenario(t *testing.T) {
	f := New(nil)

	got := f.Match("A buffer overflow in the Siemens S7 PLC firmware allows remote code execution")
	want := []string{"PLC", "Siemens", "OT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestMatch_NoTerms(t *testing.T) {
	f := New([]string{"Siemens", "PLC"})

	if got := f.Match("Cross-site scripting in a blog plugin"); got != nil {
		t.Errorf("Match() = %v, want nil", got)
	}
	if got := f.Match(""); got != nil {
		t.Errorf("Match(\"\") = %v, want nil", got)
	}
}

// TestMatch_ExactSubset checks, for a spread of inputs, that the result is
// exactly the subset of terms that occur in the text.
func TestMatch_ExactSubset(t *testing.T) {
	f := New(nil)
	inputs := []string{
		"",
		"Modbus TCP stack in Schneider Electric controllers",
		"BACnet and PROFINET devices in a factory",
		"EtherNet/IP adapters by Rockwell / Allen-Bradley",
		"unrelated web application bug",
		"DNP3 outstation in a power grid substation",
	}

	for _, in := range inputs {
		got := f.Match(in)
		var want []string
		for _, term := range DefaultTerms {
			if strings.Contains(strings.ToLower(in), strings.ToLower(term)) {
				want = append(want, term)
			}
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Match(%q) = %v, want %v", in, got, want)
		}
		if f.Relevant(in) != (len(want) > 0) {
			t.Errorf("Relevant(%q) = %v, want %v", in, f.Relevant(in), len(want) > 0)
		}
	}
}

func TestTerms_ReturnsCopy(t *testing.T) {
	f := New([]string{"PLC"})
	terms := f.Terms()
	terms[0] = "changed"

	if got := f.Terms()[0]; got != "PLC" {
		t.Errorf("Terms()[0] = %q after mutation of copy, want PLC", got)
	}
}
