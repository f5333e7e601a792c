package study

// Category is the coarse dashboard bucket derived from a workflow status.
type Category string

const (
	CategoryPending    Category = "pending"
	CategoryInProgress Category = "inprogress"
	CategoryCompleted  Category = "completed"
	CategoryArchived   Category = "archived"
	CategoryUnknown    Category = "unknown"
)

// Categories lists the buckets in display order.
var Categories = []Category{
	CategoryPending,
	CategoryInProgress,
	CategoryCompleted,
	CategoryArchived,
	CategoryUnknown,
}

// categoryOf is the only status-to-bucket mapping. Listing filters, summary
// folds and exports all go through Classify or StatusesIn.
var categoryOf = map[Status]Category{
	StatusNewStudyReceived:            CategoryPending,
	StatusPendingAssignment:           CategoryPending,
	StatusAssignedToDoctor:            CategoryPending,
	StatusDoctorOpenedReport:          CategoryInProgress,
	StatusReportInProgress:            CategoryInProgress,
	StatusReportFinalized:             CategoryCompleted,
	StatusReportUploaded:              CategoryCompleted,
	StatusReportDownloadedRadiologist: CategoryCompleted,
	StatusReportDownloaded:            CategoryCompleted,
	StatusFinalReportDownloaded:       CategoryCompleted,
	StatusArchived:                    CategoryArchived,
}

// Classify maps a status to its dashboard category. Values outside the
// status enum map to CategoryUnknown.
func Classify(s Status) Category {
	if c, ok := categoryOf[s]; ok {
		return c
	}
	return CategoryUnknown
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// StatusesIn returns the statuses belonging to any of the given categories,
// in progression order. CategoryUnknown contributes nothing since it has no
// member of the enum.
func StatusesIn(cats ...Category) []Status {
	want := make(map[Category]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	var out []Status
	for _, s := range AllStatuses {
		if want[Classify(s)] {
			out = append(out, s)
		}
	}
	return out
}

// IsCompleted reports whether a status counts toward the completion rate.
func IsCompleted(s Status) bool {
	return Classify(s) == CategoryCompleted
}
