package worklist

import (
	"fmt"
	"strings"
	"time"

	"github.com/studyflow/studyflow/internal/domain/study"
)

// studyQuery accumulates WHERE fragments and positional arguments.
type studyQuery struct {
	from    string
	where   string
	args    []interface{}
	orderBy string
}

const worklistFrom = `study s
	LEFT JOIN patient p ON p.id = s.patient_id
	LEFT JOIN doctor d ON d.id = s.assigned_to
	LEFT JOIN lab l ON l.id = s.lab_id`

func newStudyQuery(from string) *studyQuery {
	return &studyQuery{from: from}
}

// arg registers v and returns its placeholder.
func (q *studyQuery) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// Add appends a WHERE fragment (without leading "AND").
func (q *studyQuery) Add(clause string) {
	q.where += " AND " + clause
}

func (q *studyQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *studyQuery) Args() []interface{} {
	return q.args
}

func (q *studyQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

// SelectSQL returns the query without LIMIT/OFFSET, for streaming.
func (q *studyQuery) SelectSQL(cols string) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// PageSQL appends LIMIT/OFFSET placeholders after the filter args.
func (q *studyQuery) PageSQL(cols string, limit, offset int) (string, []interface{}) {
	args := make([]interface{}, len(q.args), len(q.args)+2)
	copy(args, q.args)
	args = append(args, limit, offset)
	sql := q.SelectSQL(cols) + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
	return sql, args
}

func (q *studyQuery) GroupSQL(cols, groupBy string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s GROUP BY %s", cols, q.from, q.where, groupBy)
}

// buildQuery translates a Filter into SQL. Date columns come from
// Baseline.Column and status sets from the shared classifier, so the SQL
// selects exactly what the in-memory TAT and category logic would.
func buildQuery(f Filter) *studyQuery {
	q := newStudyQuery(worklistFrom)

	if len(f.LabIDs) > 0 {
		ids := make([]string, len(f.LabIDs))
		for i, id := range f.LabIDs {
			ids[i] = id.String()
		}
		q.Add(fmt.Sprintf("s.lab_id = ANY(%s::uuid[])", q.arg(ids)))
	}
	if f.DoctorID != nil {
		q.Add(fmt.Sprintf("s.assigned_to = %s::uuid", q.arg(f.DoctorID.String())))
	}
	if set, unknown, ok := f.statusSet(); ok {
		known := study.AllStatuses
		all := make([]string, len(known))
		for i, st := range known {
			all[i] = string(st)
		}
		if unknown {
			q.Add(fmt.Sprintf("(s.workflow_status = ANY(%s::text[]) OR s.workflow_status <> ALL(%s::text[]))",
				q.arg(set), q.arg(all)))
		} else {
			q.Add(fmt.Sprintf("s.workflow_status = ANY(%s::text[])", q.arg(set)))
		}
	}
	if f.Modality != "" {
		q.Add(fmt.Sprintf("%s = ANY(s.modalities)", q.arg(f.Modality)))
	}
	if f.Priority != "" {
		q.Add(fmt.Sprintf("s.priority = %s", q.arg(string(f.Priority))))
	}
	if f.Search != "" {
		p := q.arg("%" + escapeLike(f.Search) + "%")
		q.Add(fmt.Sprintf(`(s.study_instance_uid ILIKE %[1]s OR s.accession_number ILIKE %[1]s
			OR s.exam_description ILIKE %[1]s OR p.name ILIKE %[1]s OR p.mrn ILIKE %[1]s)`, p))
	}
	addDateRange(q, f)

	switch f.Sort {
	case SortOldest:
		q.OrderBy("COALESCE(s.assigned_at, s.created_at) ASC, s.id ASC")
	case SortPriority:
		q.OrderBy(`CASE s.priority WHEN 'stat' THEN 0 WHEN 'asap' THEN 1 WHEN 'urgent' THEN 2 ELSE 3 END,
			COALESCE(s.assigned_at, s.created_at) DESC, s.id DESC`)
	default:
		q.OrderBy("COALESCE(s.assigned_at, s.created_at) DESC, s.id DESC")
	}
	return q
}

func addDateRange(q *studyQuery, f Filter) {
	if f.From == nil && f.To == nil {
		return
	}
	col := "s." + f.Baseline.Column()
	if f.Baseline.CalendarDate() {
		// YYYYMMDD strings sort chronologically; a date is in range when its
		// midnight is, so bounds round up to the next whole day.
		q.Add(col + " <> ''")
		if f.From != nil {
			q.Add(fmt.Sprintf("%s >= %s", col, q.arg(ceilDay(*f.From).Format(study.StudyDateLayout))))
		}
		if f.To != nil {
			q.Add(fmt.Sprintf("%s < %s", col, q.arg(ceilDay(*f.To).Format(study.StudyDateLayout))))
		}
		return
	}
	if f.From != nil {
		q.Add(fmt.Sprintf("%s >= %s", col, q.arg(*f.From)))
	}
	if f.To != nil {
		q.Add(fmt.Sprintf("%s < %s", col, q.arg(*f.To)))
	}
}

func ceilDay(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if day.Equal(t) {
		return day
	}
	return day.AddDate(0, 0, 1)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
