package processor

// Stats accumulates the outcome of one processing run.
type Stats struct {
	Processed int
	Skipped   int
	Ignored   int

	// SuppressedSamples counts ignored files that look like release
	// samples; they are excluded from the ignored details to keep the
	// summary readable.
	SuppressedSamples int

	SkippedDetails []string
	IgnoredDetails []string
	Warnings       []string
	Errors         []string
}

func (s *Stats) RegisterProcessed() {
	s.Processed++
}

func (s *Stats) RegisterSkipped(detail string, isError bool) {
	s.Skipped++
	s.SkippedDetails = append(s.SkippedDetails, detail)
	if isError {
		s.Errors = append(s.Errors, detail)
	}
}

func (s *Stats) RegisterIgnored(detail string) {
	s.Ignored++
	if detail != "" {
		s.IgnoredDetails = append(s.IgnoredDetails, detail)
	}
}

func (s *Stats) RegisterSuppressedSample() {
	s.Ignored++
	s.SuppressedSamples++
}

func (s *Stats) RegisterWarning(detail string) {
	s.Warnings = append(s.Warnings, detail)
}

func (s *Stats) RegisterError(detail string) {
	s.Errors = append(s.Errors, detail)
}

// HasActivity reports whether anything happened this run worth logging at
// info level.
func (s *Stats) HasActivity() bool {
	return s.Processed > 0 || s.Skipped > 0 || s.Ignored > 0 ||
		len(s.Errors) > 0 || len(s.Warnings) > 0
}
