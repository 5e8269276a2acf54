// Package security implements the prompt-security layer (C11): every text
// crossing into an LLM prompt, and every structured response coming back
// from one, passes through here first. None of these checks are a
// substitute for the Validator (ontology.Validate) or the graph store's
// safe-identifier gate — they reduce the odds that adversarial document
// content hijacks a prompt, not the odds that it reaches storage.
package security

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sanitize runs the full text pipeline used for any free text destined for
// an LLM prompt: Unicode normalization, invisible-character stripping,
// injection-pattern logging (non-blocking), and structural escaping.
// onDetect, if non-nil, is invoked once per matched injection pattern so
// the caller can log it with document/chunk context; detection never
// blocks or alters the returned text beyond the escaping step.
func Sanitize(text string, onDetect func(pattern string)) string {
	text = stripInvisible(text)
	text = norm.NFC.String(text)
	if onDetect != nil {
		for _, p := range injectionPatterns {
			if p.re.MatchString(text) {
				onDetect(p.name)
			}
		}
	}
	return escapeStructural(text)
}

// stripInvisible removes zero-width characters, bidi-override marks, and
// other invisible Unicode code points that can be used to hide injected
// instructions from human review while still being seen by the model.
func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isInvisible(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isInvisible(r rune) bool {
	switch r {
	case '​', '‌', '‍', '﻿', // zero-width space/non-joiner/joiner/BOM
		'‪', '‫', '‬', '‭', '‮', // bidi embedding/override
		'⁦', '⁧', '⁨', '⁩': // bidi isolates
		return true
	}
	return unicode.Is(unicode.Cf, r) && r != '­' // other format chars, excluding soft hyphen
}

// escapeStructural neutralizes sequences that could terminate or hijack a
// prompt section: triple backticks (used to fence instructions) and angle
// brackets (used to forge system/tool tags). Homoglyph substitution keeps
// the text readable while making it inert as markup.
func escapeStructural(s string) string {
	s = strings.ReplaceAll(s, "```", "` ` `")
	s = strings.ReplaceAll(s, "<", "〈")
	s = strings.ReplaceAll(s, ">", "〉")
	return s
}

type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

// injectionPatterns match classic prompt-injection signatures. Detection
// is log-only by design (§4.11): false positives on real corpora are more
// costly than letting a flagged-but-benign chunk through, since the
// Validator and the graph store's identifier gate are the actual
// enforcement points downstream.
var injectionPatterns = []injectionPattern{
	{"override_instructions", regexp.MustCompile(`(?i)ignore (all )?(previous|above|prior) instructions`)},
	{"fake_system_tag", regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|tool)\s*>`)},
	{"role_hijack", regexp.MustCompile(`(?i)you are now (a|an) `)},
	{"jailbreak_persona", regexp.MustCompile(`(?i)\bDAN\b|developer mode|do anything now`)},
	{"output_hijack", regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`)},
	{"new_instructions", regexp.MustCompile(`(?i)new instructions?:`)},
}

// DetectInjection reports every injection pattern name that matched text,
// without mutating it. Used where a caller wants the names without going
// through the full Sanitize pipeline.
func DetectInjection(text string) []string {
	var hits []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.name)
		}
	}
	return hits
}

// CapContext truncates joined chunk text to at most maxKiB kibibytes,
// cutting on a rune boundary, for the final context bound into a generator
// prompt (§4.11 Retrieved context).
func CapContext(text string, maxKiB int) string {
	limit := maxKiB * 1024
	if len(text) <= limit {
		return text
	}
	truncated := text[:limit]
	// Avoid splitting a multi-byte rune at the cut point.
	for len(truncated) > 0 && !validRuneBoundary(text, len(truncated)) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

func validRuneBoundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return (s[i] & 0xC0) != 0x80
}
