package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Department is read-only master data owned by the department collaborator.
type Department struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	HospitalID uint   `json:"hospital_id" gorm:"index;not null"`
	Code       string `json:"code" gorm:"type:varchar(50);index;not null"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active" gorm:"not null;default:true"`
}

func (Department) TableName() string { return "departments" }

// ChargeDetail is one billed item line, the source of truth for workload.
type ChargeDetail struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	HospitalID     uint            `json:"hospital_id" gorm:"index;not null"`
	DepartmentCode string          `json:"department_code" gorm:"type:varchar(50);index:idx_charge_dept_period"`
	ItemCode       string          `json:"item_code" gorm:"type:varchar(100);index"`
	Period         string          `json:"period" gorm:"type:varchar(7);index:idx_charge_dept_period"`
	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(38,12);not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(38,12);not null"`
	ChargedAt      time.Time       `json:"charged_at"`
}

func (ChargeDetail) TableName() string { return "charge_details" }
