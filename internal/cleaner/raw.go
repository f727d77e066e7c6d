package cleaner

import (
	"strconv"

	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
)

// RawUsers renders a cleaned user table back into extraction form, which
// lets an already-clean table be fed through the cleaner again.
func RawUsers(t domain.Table[domain.UserRecord]) domain.RawTable {
	rows := make([]domain.RawRow, 0, len(t.Rows))
	for _, u := range t.Rows {
		rows = append(rows, domain.RawRow{
			domain.FieldUserID:      strconv.FormatInt(u.UserID, 10),
			domain.FieldEmail:       u.Email,
			domain.FieldSignupDate:  formatDate(u.SignupDate),
			domain.FieldCompanySize: u.CompanySize,
			domain.FieldIndustry:    u.Industry,
		})
	}
	return domain.RawTable{Name: t.Name, Columns: mergeColumns(t.Columns, nil), Rows: rows}
}

func RawSubscriptions(t domain.Table[domain.SubscriptionEvent]) domain.RawTable {
	rows := make([]domain.RawRow, 0, len(t.Rows))
	for _, s := range t.Rows {
		row := domain.RawRow{
			domain.FieldSubscriptionID: s.SubscriptionID,
			domain.FieldPlanID:         string(s.PlanID),
			domain.FieldEventType:      string(s.EventType),
			domain.FieldEventDate:      formatDate(s.EventDate),
		}
		if !s.MissingUserID {
			row[domain.FieldUserID] = strconv.FormatInt(s.UserID, 10)
		}
		rows = append(rows, row)
	}
	return domain.RawTable{Name: t.Name, Columns: mergeColumns(t.Columns, nil), Rows: rows}
}
