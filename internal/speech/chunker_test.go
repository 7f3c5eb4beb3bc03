package speech

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

// contentOpts are the production defaults for scripted content.
func contentOpts() ChunkOptions {
	return ChunkOptions{
		MaxExpectedMS:        650,
		PaceMSPerChar:        12,
		Purpose:              PurposeContent,
		Interruptible:        true,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	}
}

func TestDashPause(t *testing.T) {
	t.Parallel()

	if got := DashPause(0); got != "" {
		t.Errorf("DashPause(0) = %q", got)
	}
	if got := DashPause(1); got != " - " {
		t.Errorf("DashPause(1) = %q", got)
	}
	if got := DashPause(3); got != " -  -  - " {
		t.Errorf("DashPause(3) = %q", got)
	}
}

func TestDetBreakMS(t *testing.T) {
	t.Parallel()

	want := []int64{150, 227, 304, 381, 207}
	for i, w := range want {
		if got := detBreakMS(i); got != w {
			t.Errorf("detBreakMS(%d) = %d, want %d", i, got, w)
		}
	}
	for i := 0; i < 100; i++ {
		if got := detBreakMS(i); got < 150 || got > 400 {
			t.Fatalf("detBreakMS(%d) = %d out of [150, 400]", i, got)
		}
	}
}

func TestDashPauseUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		breakMS, unitMS, want int64
	}{
		{150, 200, 1},
		{250, 200, 1},
		{300, 200, 2},
		{0, 200, 1},
		{-50, 200, 1},
		{150, 0, 0},
	}
	for _, tt := range tests {
		if got := dashPauseUnits(tt.breakMS, tt.unitMS); got != tt.want {
			t.Errorf("dashPauseUnits(%d, %d) = %d, want %d", tt.breakMS, tt.unitMS, got, tt.want)
		}
	}
}

func TestBoundaryPause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     MarkupMode
		breakMS  int64
		unitMS   int64
		wantText string
		wantMS   int64
	}{
		{"raw text no pause", MarkupRawText, 150, 200, "", 0},
		{"ssml break tag", MarkupSSML, 225, 200, `<break time="225ms"/>`, 225},
		{"dash single unit", MarkupDashPause, 150, 200, " - ", 200},
		{"dash rounds up", MarkupDashPause, 300, 200, " -  - ", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, ms := boundaryPause(tt.mode, tt.breakMS, tt.unitMS)
			if text != tt.wantText || ms != tt.wantMS {
				t.Errorf("boundaryPause = (%q, %d), want (%q, %d)", text, ms, tt.wantText, tt.wantMS)
			}
		})
	}
}

func TestSplitClauses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "sentence boundary keeps punctuation",
			text: "Hello. How are you?",
			want: []string{"Hello.", "How are you?"},
		},
		{
			name: "comma consumed",
			text: "We can do Tuesday, or Thursday",
			want: []string{"We can do Tuesday", "or Thursday"},
		},
		{
			name: "and removed",
			text: "I hear you and I can help",
			want: []string{"I hear you", "I can help"},
		},
		{
			name: "but removed",
			text: "It stings but it works",
			want: []string{"It stings", "it works"},
		},
		{
			name: "so removed",
			text: "Call us so we can help",
			want: []string{"Call us", "we can help"},
		},
		{
			name: "sentence end beats conjunction",
			text: "Done. and more",
			want: []string{"Done.", "and more"},
		},
		{
			name: "comma before conjunction",
			text: "Hi, and bye",
			want: []string{"Hi", "and bye"},
		},
		{
			name: "ellipsis",
			text: "Wait... what?",
			want: []string{"Wait...", "what?"},
		},
		{
			name: "no separators",
			text: "No separators here",
			want: []string{"No separators here"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := splitClauses(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitClauses(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestGlueBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		out, next, want string
	}{
		{"abc", "def", "abc "},
		{"abc ", "def", "abc "},
		{"abc", "$5 fee", "abc "},
		{"abc", "(maybe)", "abc "},
		{"abc", `"quote"`, "abc "},
		{"abc", "'quote'", "abc "},
		{"abc", "", "abc"},
		{"", "def", ""},
		{"abc", "- dash", "abc"},
	}
	for _, tt := range tests {
		if got := glueBoundary(tt.out, tt.next); got != tt.want {
			t.Errorf("glueBoundary(%q, %q) = %q, want %q", tt.out, tt.next, got, tt.want)
		}
	}
}

func TestMicroChunkPacksClausesUnderBudget(t *testing.T) {
	t.Parallel()

	segs := MicroChunk("We can get you in tomorrow at 9 am, or Thursday afternoon. Which works better?", contentOpts())
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segs), segs)
	}
	if got := segs[0].SSML; got != "We can get you in tomorrow at 9 am " {
		t.Errorf("segment 0 ssml = %q", got)
	}
	if got := segs[1].SSML; got != "or Thursday afternoon. Which works better?" {
		t.Errorf("segment 1 ssml = %q", got)
	}
	if got := segs[0].ExpectedDurationMS; got != 408 {
		t.Errorf("segment 0 expected = %d, want 408", got)
	}
	if got := segs[1].ExpectedDurationMS; got != 504 {
		t.Errorf("segment 1 expected = %d, want 504", got)
	}
	if !segs[0].ContainsProtectedSpan {
		t.Error("segment 0 should mark the time span as protected")
	}
	if segs[1].ContainsProtectedSpan {
		t.Error("segment 1 has no protected span")
	}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d carries index %d", i, s.Index)
		}
	}
}

func TestMicroChunkMaxDurationAndInterruptPoints(t *testing.T) {
	t.Parallel()

	text := "Okay. We can help with scheduling, pricing questions, and basic policies. " +
		"Tell me what you're looking for, and I'll point you in the right direction."
	opts := ChunkOptions{
		MaxExpectedMS:        1200,
		PaceMSPerChar:        20,
		Purpose:              PurposeContent,
		Interruptible:        true,
		MaxMonologueMS:       12000,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	}
	segs := MicroChunk(text, opts)
	if len(segs) == 0 {
		t.Fatal("no segments")
	}

	trailingDash := regexp.MustCompile(`(?:\s-\s)+\s*$`)
	var joined []string
	for _, s := range segs {
		if s.ExpectedDurationMS > 1200 {
			t.Errorf("segment %d expected %d over budget", s.Index, s.ExpectedDurationMS)
		}
		if !s.SafeInterruptPoint {
			t.Errorf("segment %d not a safe interrupt point", s.Index)
		}
		if trailingDash.MatchString(s.SSML) {
			t.Errorf("segment %d has boundary dashes under PROTECTED_ONLY: %q", s.Index, s.SSML)
		}
		joined = append(joined, s.SSML)
	}
	if ssml := strings.Join(joined, " "); strings.Contains(ssml, "<break") {
		t.Errorf("unexpected SSML break in %q", ssml)
	}
}

func TestMicroChunkInsertsCheckInOnLongMonologue(t *testing.T) {
	t.Parallel()

	// 40 sentences at 20ms/char is far past a 12s monologue budget.
	long := strings.TrimSpace(strings.Repeat("Here is some detailed information. ", 40))
	opts := ChunkOptions{
		MaxExpectedMS:        1200,
		PaceMSPerChar:        20,
		Purpose:              PurposeContent,
		Interruptible:        true,
		MaxMonologueMS:       12000,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	}
	segs := MicroChunk(long, opts)

	var checkIns int
	for _, s := range segs {
		if s.Purpose == PurposeClarify {
			checkIns++
			if s.PlainText != "Want me to keep going?" {
				t.Errorf("check-in text = %q", s.PlainText)
			}
			if !s.Interruptible {
				t.Error("check-in must be interruptible")
			}
		}
		if s.ExpectedDurationMS > 1200 {
			t.Errorf("segment %d expected %d over budget", s.Index, s.ExpectedDurationMS)
		}
	}
	if checkIns == 0 {
		t.Fatal("expected at least one check-in segment")
	}
}

func TestMicroChunkNoCheckInOffContentPurpose(t *testing.T) {
	t.Parallel()

	long := strings.TrimSpace(strings.Repeat("Here is some detailed information. ", 40))
	opts := ChunkOptions{
		MaxExpectedMS:        1200,
		PaceMSPerChar:        20,
		Purpose:              PurposeConfirm,
		Interruptible:        true,
		MaxMonologueMS:       12000,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	}
	for _, s := range MicroChunk(long, opts) {
		if s.Purpose == PurposeClarify {
			t.Fatal("check-ins only apply to CONTENT")
		}
	}
}

func TestMicroChunkPreservesWordBoundariesAcrossSegments(t *testing.T) {
	t.Parallel()

	// The platform concatenates streamed chunks exactly as sent; losing the
	// space between segments produces run-on words like "thisor".
	text := "Should I archive this or send a short report to your manager inbox now?"
	opts := ChunkOptions{
		MaxExpectedMS:        200, // force many small segments
		PaceMSPerChar:        30,
		Purpose:              PurposeContent,
		Interruptible:        true,
		Markup:               MarkupRawText,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	}
	segs := MicroChunk(text, opts)
	if len(segs) <= 5 {
		t.Fatalf("got %d segments, want more than 5", len(segs))
	}
	var stitched strings.Builder
	for _, s := range segs {
		stitched.WriteString(s.SSML)
	}
	norm := collapseWhitespace(stitched.String())
	if norm != text {
		t.Errorf("stitched output = %q, want %q", norm, text)
	}
	if strings.Contains(stitched.String(), "thisor") {
		t.Error("run-on words across segment boundary")
	}
}

func TestMicroChunkSlowDigitFormatting(t *testing.T) {
	t.Parallel()

	segs := MicroChunk("Just to confirm-last four are 4567, right?", ChunkOptions{
		MaxExpectedMS:        1200,
		PaceMSPerChar:        20,
		Purpose:              PurposeConfirm,
		Interruptible:        true,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	})
	var joined []string
	for _, s := range segs {
		joined = append(joined, s.SSML)
	}
	ssml := strings.Join(joined, " ")

	if strings.Contains(ssml, "<break") {
		t.Errorf("ssml mode leaked into dash-pause output: %q", ssml)
	}
	if !strings.Contains(ssml, "4 - 5 - 6 - 7") {
		t.Errorf("digits not dash-separated: %q", ssml)
	}
	// Always space-dash-space between digits.
	if regexp.MustCompile(`\d-\d`).MatchString(ssml) {
		t.Errorf("dash separators must be spaced: %q", ssml)
	}
	if strings.Contains(ssml, "--") {
		t.Errorf("double dash in %q", ssml)
	}
}

func TestMicroChunkSSMLBoundary(t *testing.T) {
	t.Parallel()

	segs := MicroChunk("One. Two.", ChunkOptions{
		MaxExpectedMS:        120,
		PaceMSPerChar:        12,
		Purpose:              PurposeContent,
		Interruptible:        true,
		Markup:               MarkupSSML,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseProtectedOnly,
	})
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if got := segs[0].SSML; got != `One.<break time="150ms"/>` {
		t.Errorf("segment 0 ssml = %q", got)
	}
	if got := segs[0].ExpectedDurationMS; got != 198 {
		t.Errorf("segment 0 expected = %d, want 198", got)
	}
	if got := segs[1].SSML; got != "Two." {
		t.Errorf("segment 1 ssml = %q", got)
	}
	if got := segs[1].ExpectedDurationMS; got != 48 {
		t.Errorf("segment 1 expected = %d, want 48", got)
	}
}

func TestMicroChunkSegmentBoundaryDashes(t *testing.T) {
	t.Parallel()

	segs := MicroChunk("One. Two.", ChunkOptions{
		MaxExpectedMS:        120,
		PaceMSPerChar:        12,
		Purpose:              PurposeContent,
		Interruptible:        true,
		Markup:               MarkupDashPause,
		DashPauseUnitMS:      200,
		DigitDashPauseUnitMS: 150,
		PauseScope:           PauseSegmentBoundary,
	})
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if got := segs[0].SSML; got != "One. - " {
		t.Errorf("segment 0 ssml = %q", got)
	}
	if got := segs[0].ExpectedDurationMS; got != 248 {
		t.Errorf("segment 0 expected = %d, want 248", got)
	}
	if got := segs[1].SSML; got != "Two." {
		t.Errorf("segment 1 ssml = %q", got)
	}
}

func TestMicroChunkEmptyInput(t *testing.T) {
	t.Parallel()

	if segs := MicroChunk("", contentOpts()); segs != nil {
		t.Errorf("empty text produced %+v", segs)
	}
	if segs := MicroChunk("  \n\t ", contentOpts()); segs != nil {
		t.Errorf("whitespace text produced %+v", segs)
	}
}

func TestMicroChunkPurposeChangesRendering(t *testing.T) {
	t.Parallel()

	confirm := contentOpts()
	confirm.Purpose = PurposeConfirm
	got := MicroChunk("Code 12.", confirm)
	if len(got) != 1 || got[0].SSML != "Code 1 - 2." {
		t.Fatalf("confirm rendering = %+v", got)
	}
	if want := int64(8*12 + 150); got[0].ExpectedDurationMS != want {
		t.Errorf("confirm expected = %d, want %d", got[0].ExpectedDurationMS, want)
	}

	content := MicroChunk("Code 12.", contentOpts())
	if len(content) != 1 || content[0].SSML != "Code 12." {
		t.Fatalf("content rendering = %+v", content)
	}
}

func TestMicroChunkOversizedWordStaysWhole(t *testing.T) {
	t.Parallel()

	opts := contentOpts()
	opts.MaxExpectedMS = 120
	segs := MicroChunk("Antidisestablishmentarianism.", opts)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if got := segs[0].PlainText; got != "Antidisestablishmentarianism." {
		t.Errorf("word was split: %q", got)
	}
}

func TestMicroChunkEvidencePropagates(t *testing.T) {
	t.Parallel()

	opts := contentOpts()
	opts.RequiresToolEvidence = true
	opts.ToolEvidenceIDs = []string{"sess:tool:1"}
	segs := MicroChunk("The appointment is booked.", opts)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if !segs[0].RequiresToolEvidence {
		t.Error("evidence requirement dropped")
	}
	if !reflect.DeepEqual(segs[0].ToolEvidenceIDs, []string{"sess:tool:1"}) {
		t.Errorf("evidence ids = %v", segs[0].ToolEvidenceIDs)
	}
}

func TestMicroChunkCachedMemoizes(t *testing.T) {
	t.Parallel()

	opts := contentOpts()
	first := MicroChunkCached("Mornings are wide open this week.", "slots:v1", "intent:schedule", opts)
	second := MicroChunkCached("Mornings are wide open this week.", "slots:v1", "intent:schedule", opts)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result diverged: %+v vs %+v", first, second)
	}
	direct := MicroChunk("Mornings are wide open this week.", opts)
	if !reflect.DeepEqual(first, direct) {
		t.Errorf("cached result differs from direct chunking: %+v vs %+v", first, direct)
	}
}
