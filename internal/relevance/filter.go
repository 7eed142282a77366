// Package relevance implements the local keyword pre-screen that decides
// whether a vulnerability description is plausibly about OT/ICS environments.
package relevance

import "strings"

// DefaultTerms is the OT/ICS vocabulary: control-system types, vendors,
// industrial protocols, sectors and generic OT phrases. Match results follow
// this order.
var DefaultTerms = []string{
	"SCADA", "PLC", "HMI", "DCS", "ICS", "RTU",
	"Siemens", "Rockwell", "Allen-Bradley", "Schneider", "ABB", "Emerson",
	"Modbus", "DNP3", "OPC", "PROFINET", "EtherNet/IP", "BACnet",
	"industrial", "factory", "manufacturing", "critical infrastructure",
	"water treatment", "power grid", "energy", "oil gas", "chemical plant",
	"OT", "operational technology", "industrial control", "process control",
}

// Filter matches text against a fixed term list.
type Filter struct {
	terms []string
	lower []string
}

// New creates a Filter for terms. A nil or empty list falls back to DefaultTerms.
func New(terms []string) *Filter {
	if len(terms) == 0 {
		terms = DefaultTerms
	}
	f := &Filter{
		terms: make([]string, len(terms)),
		lower: make([]string, len(terms)),
	}
	for i, t := range terms {
		f.terms[i] = t
		f.lower[i] = strings.ToLower(t)
	}
	return f
}

// Terms returns a copy of the configured term list.
func (f *Filter) Terms() []string {
	return append([]string(nil), f.terms...)
}

// Match returns the terms that occur in text as case-insensitive substrings,
// in term-list order. Returns nil when nothing matches.
func (f *Filter) Match(text string) []string {
	if text == "" {
		return nil
	}
	haystack := strings.ToLower(text)

	var found []string
	for i, t := range f.lower {
		if strings.Contains(haystack, t) {
			found = append(found, f.terms[i])
		}
	}
	return found
}

// Relevant reports whether at least one term occurs in text.
func (f *Filter) Relevant(text string) bool {
	if text == "" {
		return false
	}
	haystack := strings.ToLower(text)
	for _, t := range f.lower {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
