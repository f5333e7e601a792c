package worklist

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/internal/domain/study"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func parse(t *testing.T, query string) (Filter, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/worklist?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return ParseFilter(c, testNow)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseFilter_Defaults(t *testing.T) {
	f, err := parse(t, "")
	require.NoError(t, err)
	assert.Equal(t, study.BaselineUploadDate, f.Baseline)
	assert.Equal(t, SortRecent, f.Sort)
	assert.Nil(t, f.From)
	assert.Nil(t, f.To)
	assert.Empty(t, f.Statuses)
}

func TestParseFilter_Lists(t *testing.T) {
	lab1, lab2 := uuid.New(), uuid.New()
	f, err := parse(t, "status=pending_assignment,assigned_to_doctor&status=archived"+
		"&lab="+lab1.String()+","+lab2.String()+"&category=pending&modality=ct&priority=STAT&q=+knee+")
	require.NoError(t, err)
	assert.Equal(t, []study.Status{study.StatusPendingAssignment, study.StatusAssignedToDoctor, study.StatusArchived}, f.Statuses)
	assert.Equal(t, []uuid.UUID{lab1, lab2}, f.LabIDs)
	assert.Equal(t, []study.Category{study.CategoryPending}, f.Categories)
	assert.Equal(t, "CT", f.Modality)
	assert.Equal(t, study.PriorityStat, f.Priority)
	assert.Equal(t, "knee", f.Search)
}

func TestParseFilter_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad lab":         "lab=nope",
		"bad doctor":      "doctor=nope",
		"unknown status":  "status=done",
		"unknown cat":     "category=later",
		"bad priority":    "priority=whenever",
		"bad baseline":    "date_type=birthday",
		"bad sort":        "sort=random",
		"bad date":        "from=15/03/2024",
		"unknown preset":  "preset=fortnight",
		"preset and from": "preset=today&from=2024-03-01",
		"empty range":     "from=2024-03-02&to=2024-03-01",
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, query)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestParseFilter_DateOnlyUpperBoundIsInclusive(t *testing.T) {
	f, err := parse(t, "from=2024-01-01&to=2024-01-31&date_type=report_date")
	require.NoError(t, err)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, day(2024, 1, 1), *f.From)
	assert.Equal(t, day(2024, 2, 1), *f.To)
	assert.Equal(t, study.BaselineReportDate, f.Baseline)
}

func TestParseFilter_TimestampUpperBoundIsExclusive(t *testing.T) {
	f, err := parse(t, "to=2024-01-31T12:00:00%2B02:00")
	require.NoError(t, err)
	require.NotNil(t, f.To)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), *f.To)
}

func TestParseFilter_Preset(t *testing.T) {
	f, err := parse(t, "preset=last7days")
	require.NoError(t, err)
	assert.Equal(t, day(2024, 3, 9), *f.From)
	assert.Equal(t, day(2024, 3, 16), *f.To)
}

func TestResolvePreset(t *testing.T) {
	cases := []struct {
		preset   Preset
		from, to time.Time
	}{
		{PresetToday, day(2024, 3, 15), day(2024, 3, 16)},
		{PresetYesterday, day(2024, 3, 14), day(2024, 3, 15)},
		{PresetLast7Days, day(2024, 3, 9), day(2024, 3, 16)},
		{PresetLast30Days, day(2024, 2, 15), day(2024, 3, 16)},
		{PresetThisMonth, day(2024, 3, 1), day(2024, 4, 1)},
	}
	for _, tc := range cases {
		t.Run(string(tc.preset), func(t *testing.T) {
			from, to, err := ResolvePreset(tc.preset, testNow)
			require.NoError(t, err)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
		})
	}

	_, _, err := ResolvePreset("someday", testNow)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestFilter_StatusSet(t *testing.T) {
	t.Run("no constraint", func(t *testing.T) {
		_, _, ok := Filter{}.statusSet()
		assert.False(t, ok)
	})
	t.Run("category expands", func(t *testing.T) {
		set, unknown, ok := Filter{Categories: []study.Category{study.CategoryInProgress}}.statusSet()
		require.True(t, ok)
		assert.False(t, unknown)
		assert.Equal(t, []string{"doctor_opened_report", "report_in_progress"}, set)
	})
	t.Run("statuses and categories intersect", func(t *testing.T) {
		f := Filter{
			Statuses:   []study.Status{study.StatusReportFinalized, study.StatusPendingAssignment},
			Categories: []study.Category{study.CategoryPending},
		}
		set, _, ok := f.statusSet()
		require.True(t, ok)
		assert.Equal(t, []string{"pending_assignment"}, set)
	})
	t.Run("disjoint intersection matches nothing", func(t *testing.T) {
		f := Filter{
			Statuses:   []study.Status{study.StatusArchived},
			Categories: []study.Category{study.CategoryCompleted},
		}
		set, unknown, ok := f.statusSet()
		require.True(t, ok)
		assert.False(t, unknown)
		assert.Empty(t, set)
	})
	t.Run("unknown category", func(t *testing.T) {
		set, unknown, ok := Filter{Categories: []study.Category{study.CategoryUnknown}}.statusSet()
		require.True(t, ok)
		assert.True(t, unknown)
		assert.Empty(t, set)
	})
}

func TestFilter_Key(t *testing.T) {
	lab1, lab2 := uuid.New(), uuid.New()
	a := Filter{LabIDs: []uuid.UUID{lab1, lab2}, Baseline: study.BaselineUploadDate, Sort: SortRecent}
	b := Filter{LabIDs: []uuid.UUID{lab2, lab1}, Baseline: study.BaselineUploadDate, Sort: SortPriority}
	assert.Equal(t, a.Key(), b.Key(), "lab order and sort must not change the key")
	assert.Len(t, a.Key(), 16)

	c := a
	c.Statuses = []study.Status{study.StatusArchived}
	assert.NotEqual(t, a.Key(), c.Key())

	// A status and category list that resolve to the same set share a key.
	byStatus := Filter{Statuses: []study.Status{study.StatusDoctorOpenedReport, study.StatusReportInProgress}}
	byCategory := Filter{Categories: []study.Category{study.CategoryInProgress}}
	assert.Equal(t, byStatus.Key(), byCategory.Key())

	empty := Filter{Statuses: []study.Status{study.StatusArchived}, Categories: []study.Category{study.CategoryCompleted}}
	assert.NotEqual(t, Filter{}.Key(), empty.Key(), "an empty status set is not the same as no status filter")
}
