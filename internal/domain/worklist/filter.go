package worklist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/studyflow/studyflow/internal/domain/study"
)

var ErrInvalidFilter = errors.New("invalid filter")

// Preset names a date range relative to the server clock.
type Preset string

const (
	PresetToday      Preset = "today"
	PresetYesterday  Preset = "yesterday"
	PresetLast7Days  Preset = "last7days"
	PresetLast30Days Preset = "last30days"
	PresetThisMonth  Preset = "this_month"
)

// Sort orders a worklist page.
type Sort string

const (
	// SortRecent puts the most recently assigned or created study first.
	SortRecent   Sort = "recent"
	SortOldest   Sort = "oldest"
	SortPriority Sort = "priority"
)

// Filter selects studies for listing, summaries and exports. Every set
// field narrows the result. From/To bound the Baseline field as [From, To).
type Filter struct {
	LabIDs     []uuid.UUID
	DoctorID   *uuid.UUID
	Statuses   []study.Status
	Categories []study.Category
	Modality   string
	Priority   study.Priority
	Search     string
	Baseline   study.Baseline
	From       *time.Time
	To         *time.Time
	Sort       Sort
}

// ResolvePreset turns a preset into a half-open UTC day range.
func ResolvePreset(p Preset, now time.Time) (from, to time.Time, err error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	switch p {
	case PresetToday:
		return today, tomorrow, nil
	case PresetYesterday:
		return today.AddDate(0, 0, -1), today, nil
	case PresetLast7Days:
		return today.AddDate(0, 0, -6), tomorrow, nil
	case PresetLast30Days:
		return today.AddDate(0, 0, -29), tomorrow, nil
	case PresetThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown date preset %q", ErrInvalidFilter, p)
}

// Query parameter names understood by ParseFilter.
const (
	paramLab      = "lab"
	paramStatus   = "status"
	paramCategory = "category"
	paramModality = "modality"
	paramPriority = "priority"
	paramSearch   = "q"
	paramBaseline = "date_type"
	paramFrom     = "from"
	paramTo       = "to"
	paramPreset   = "preset"
	paramSort     = "sort"
	paramDoctor   = "doctor"
)

// ParseFilter reads a Filter from the request query string. List parameters
// accept either repetition (?status=a&status=b) or commas (?status=a,b).
// Dates are YYYY-MM-DD (to is inclusive) or RFC 3339 (to is exclusive).
func ParseFilter(c echo.Context, now time.Time) (Filter, error) {
	q := c.QueryParams()
	list := func(name string) []string {
		var out []string
		for _, raw := range q[name] {
			for _, part := range strings.Split(raw, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out
	}

	var f Filter
	for _, raw := range list(paramLab) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, fmt.Errorf("%w: lab %q is not a valid id", ErrInvalidFilter, raw)
		}
		f.LabIDs = append(f.LabIDs, id)
	}
	if raw := q.Get(paramDoctor); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, fmt.Errorf("%w: doctor %q is not a valid id", ErrInvalidFilter, raw)
		}
		f.DoctorID = &id
	}
	for _, raw := range list(paramStatus) {
		st, err := study.ParseStatus(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, raw := range list(paramCategory) {
		cat, ok := study.ParseCategory(raw)
		if !ok {
			return f, fmt.Errorf("%w: unknown category %q", ErrInvalidFilter, raw)
		}
		f.Categories = append(f.Categories, cat)
	}
	f.Modality = strings.ToUpper(strings.TrimSpace(q.Get(paramModality)))
	if raw := q.Get(paramPriority); raw != "" {
		p, err := study.ParsePriority(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		f.Priority = p
	}
	f.Search = strings.TrimSpace(q.Get(paramSearch))

	b, err := study.ParseBaseline(q.Get(paramBaseline))
	if err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	f.Baseline = b

	switch s := Sort(q.Get(paramSort)); s {
	case "":
		f.Sort = SortRecent
	case SortRecent, SortOldest, SortPriority:
		f.Sort = s
	default:
		return f, fmt.Errorf("%w: unknown sort %q", ErrInvalidFilter, s)
	}

	preset := q.Get(paramPreset)
	fromRaw, toRaw := q.Get(paramFrom), q.Get(paramTo)
	if preset != "" {
		if fromRaw != "" || toRaw != "" {
			return f, fmt.Errorf("%w: preset cannot be combined with from/to", ErrInvalidFilter)
		}
		from, to, err := ResolvePreset(Preset(preset), now)
		if err != nil {
			return f, err
		}
		f.From, f.To = &from, &to
	} else {
		if fromRaw != "" {
			t, err := parseBound(fromRaw, false)
			if err != nil {
				return f, err
			}
			f.From = &t
		}
		if toRaw != "" {
			t, err := parseBound(toRaw, true)
			if err != nil {
				return f, err
			}
			f.To = &t
		}
	}

	return f, f.Validate()
}

func parseBound(raw string, upper bool) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", raw, time.UTC); err == nil {
		if upper {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither YYYY-MM-DD nor RFC 3339", ErrInvalidFilter, raw)
	}
	return t.UTC(), nil
}

// Validate checks cross-field constraints.
func (f Filter) Validate() error {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return fmt.Errorf("%w: from must be before to", ErrInvalidFilter)
	}
	return nil
}

// statusSet resolves Statuses and Categories into the statuses to match.
// Both narrow: a status must appear in Statuses (when set) and belong to one
// of Categories (when set). ok is false when no status constraint applies.
// includeUnknown reports that values outside the enum should also match.
func (f Filter) statusSet() (set []string, includeUnknown, ok bool) {
	if len(f.Statuses) == 0 && len(f.Categories) == 0 {
		return nil, false, false
	}
	wantCat := make(map[study.Category]bool, len(f.Categories))
	for _, c := range f.Categories {
		wantCat[c] = true
	}

	candidates := f.Statuses
	if len(candidates) == 0 {
		candidates = study.StatusesIn(f.Categories...)
		includeUnknown = wantCat[study.CategoryUnknown]
	}

	seen := make(map[study.Status]bool)
	set = []string{}
	for _, st := range candidates {
		if seen[st] {
			continue
		}
		seen[st] = true
		if len(wantCat) > 0 && !wantCat[study.Classify(st)] {
			continue
		}
		set = append(set, string(st))
	}
	sort.Strings(set)
	return set, includeUnknown, true
}

// Key is a stable digest of the filter used for cache entries, export locks
// and object names. Sort does not participate since it never changes the set.
func (f Filter) Key() string {
	labs := make([]string, len(f.LabIDs))
	for i, id := range f.LabIDs {
		labs[i] = id.String()
	}
	sort.Strings(labs)

	statuses, unknown, constrained := f.statusSet()

	var b strings.Builder
	fmt.Fprintf(&b, "lab=%s|", strings.Join(labs, ","))
	if f.DoctorID != nil {
		fmt.Fprintf(&b, "doctor=%s|", f.DoctorID)
	}
	if constrained {
		fmt.Fprintf(&b, "status=%s|unknown=%t|", strings.Join(statuses, ","), unknown)
	}
	fmt.Fprintf(&b, "modality=%s|priority=%s|q=%s|baseline=%s|",
		f.Modality, f.Priority, strings.ToLower(f.Search), f.Baseline)
	if f.From != nil {
		fmt.Fprintf(&b, "from=%s|", f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		fmt.Fprintf(&b, "to=%s|", f.To.UTC().Format(time.RFC3339))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
