// Package domain describes the warehouse star schema the loader writes to.
// The schema itself is owned outside this repository; these models mirror
// the columns the loader reads and writes.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TableDimUsers          = "dim_users"
	TableDimPlans          = "dim_plans"
	TableDimDates          = "dim_dates"
	TableFactSubscriptions = "fact_subscriptions"
)

// Tables lists the warehouse tables in reporting order.
var Tables = []string{TableDimUsers, TableDimPlans, TableDimDates, TableFactSubscriptions}

// DimUser is a row of the user dimension.
type DimUser struct {
	UserKey     int64     `gorm:"column:user_key;primaryKey;autoIncrement"`
	UserID      int64     `gorm:"column:user_id;not null;uniqueIndex"`
	Email       string    `gorm:"column:email;type:text"`
	SignupDate  time.Time `gorm:"column:signup_date;type:date"`
	CompanySize string    `gorm:"column:company_size;type:text"`
	Industry    string    `gorm:"column:industry;type:text"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (DimUser) TableName() string { return TableDimUsers }

type DimPlan struct {
	PlanKey      int64           `gorm:"column:plan_key;primaryKey;autoIncrement"`
	PlanID       string          `gorm:"column:plan_id;not null;uniqueIndex"`
	MonthlyPrice decimal.Decimal `gorm:"column:monthly_price;type:numeric(10,2)"`
}

func (DimPlan) TableName() string { return TableDimPlans }

type DimDate struct {
	DateKey  int       `gorm:"column:date_key;primaryKey;autoIncrement:false"`
	FullDate time.Time `gorm:"column:full_date;type:date"`
	Year     int       `gorm:"column:year"`
	Quarter  int       `gorm:"column:quarter"`
	Month    int       `gorm:"column:month"`
	Day      int       `gorm:"column:day"`
}

func (DimDate) TableName() string { return TableDimDates }

// FactSubscription is an append-only subscription event fact.
type FactSubscription struct {
	UserKey   int64           `gorm:"column:user_key;not null"`
	PlanKey   int64           `gorm:"column:plan_key;not null"`
	DateKey   int             `gorm:"column:date_key;not null"`
	EventType string          `gorm:"column:event_type;type:text;not null"`
	MRRAmount decimal.Decimal `gorm:"column:mrr_amount;type:numeric(10,2)"`
}

func (FactSubscription) TableName() string { return TableFactSubscriptions }

// Dimension names the natural and surrogate key columns of a dimension table.
type Dimension struct {
	Table        string
	NaturalKey   string
	SurrogateKey string
}

var (
	UsersDimension = Dimension{Table: TableDimUsers, NaturalKey: "user_id", SurrogateKey: "user_key"}
	PlansDimension = Dimension{Table: TableDimPlans, NaturalKey: "plan_id", SurrogateKey: "plan_key"}
)
