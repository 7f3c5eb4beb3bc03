package dialog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CallScript holds the scripted lines and phrase rotations for a call. The
// zero value is unusable; start from [DefaultCallScript] or [LoadCallScript].
// Opener templates may contain {{placeholder}} markers filled at render time
// from the session's configuration.
type CallScript struct {
	ClinicOpener   string   `yaml:"clinic_opener"`
	B2BOpener      string   `yaml:"b2b_opener"`
	CheckIn        string   `yaml:"check_in"`
	DisclosureLine string   `yaml:"disclosure_line"`
	AckStandard    []string `yaml:"ack_standard"`
	AckApology     []string `yaml:"ack_apology"`
	AckApologyB2B  []string `yaml:"ack_apology_b2b"`
	FillerFirst    []string `yaml:"filler_first"`
	FillerFollowUp []string `yaml:"filler_follow_up"`
}

// DefaultCallScript returns the compiled-in script.
func DefaultCallScript() *CallScript {
	return &CallScript{
		ClinicOpener:   "Hi! Thanks for calling {{clinic_name}}. This is Sarah, the clinic's virtual assistant. How can I help today?",
		B2BOpener:      "Hi, this is {{agent_name}} with {{org_name}}. Is now a bad time for a quick question?",
		CheckIn:        "Want me to keep going?",
		DisclosureLine: "I'm Sarah, the clinic's virtual assistant.",
		AckStandard:    []string{"Okay."},
		AckApology:     []string{"Sorry about that."},
		AckApologyB2B:  []string{"Okay."},
		FillerFirst: []string{
			"Okay, one sec.",
			"Give me a second.",
			"Checking that now.",
			"One moment.",
			"Hang on one sec.",
			"Let me check that.",
			"All right, one sec.",
			"Thanks-one second.",
		},
		FillerFollowUp: []string{
			"Still pulling that up.",
			"Thanks for waiting-I am still checking.",
			"Almost there-I am still loading it.",
			"Just a bit longer-I am still checking.",
			"Still on it.",
			"Still working on that now.",
		},
	}
}

// LoadCallScript reads a YAML call script; keys present in the file override
// the compiled-in defaults, absent keys keep them. An empty path or a
// missing file yields the defaults; a malformed file is a startup error.
func LoadCallScript(path string) (*CallScript, error) {
	script := DefaultCallScript()
	if path == "" {
		return script, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return script, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call script: open %q: %w", path, err)
	}
	defer f.Close()

	if err := decodeCallScript(f, script); err != nil {
		return nil, fmt.Errorf("call script: parse %q: %w", path, err)
	}
	return script, nil
}

func decodeCallScript(r io.Reader, script *CallScript) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(script); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Opener renders the opening line for the profile, substituting any
// {{name}} placeholders from the given map.
func (s *CallScript) Opener(profile Profile, placeholders map[string]string) string {
	tmpl := s.ClinicOpener
	if profile == ProfileB2B {
		tmpl = s.B2BOpener
	}
	return RenderPlaceholders(tmpl, placeholders)
}

// RenderPlaceholders replaces every {{key}} occurrence with its value.
// Unknown placeholders are left verbatim so a broken template is visible in
// transcripts rather than silently blank.
func RenderPlaceholders(text string, placeholders map[string]string) string {
	for k, v := range placeholders {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}
