// Package testutil builds migrated SQLite databases and a small scoring
// model for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/pkg/db"
)

const (
	HospitalID = uint(1)
	Period     = "2025-10"
)

// NewDB opens a file-backed SQLite database under t.TempDir with every
// model migrated. One open connection keeps SQLite writers serialized.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	gormDB, err := db.NewGormDB(db.Options{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.AutoMigrate(gormDB, models.All()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gormDB
}

// Fixture is the seeded model:
//
//	DOC (sequence)
//	  DOC-OUT (dimension)
//	    DOC-VISIT  leaf, weight 55, items V001
//	    DOC-SURG   leaf, weight 60, items S001
//	  DOC-CONSULT  leaf, weight 10, items C001
//	NUR (sequence)
//	  NUR-CARE     leaf, weight 2, items N001
//
// Departments D01 and D02. Charges for Period: D01 V001 x1000, D01 S001 x600,
// D02 V001 x200, D02 N001 x50.
type Fixture struct {
	Version  models.ModelVersion
	Workflow models.Workflow
	Nodes    map[string]models.ScoringNode
	Depts    map[string]models.Department
}

func Dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func NullDec(v string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: Dec(v), Valid: true}
}

func Seed(t testing.TB, gormDB *gorm.DB) *Fixture {
	t.Helper()
	f := &Fixture{
		Nodes: make(map[string]models.ScoringNode),
		Depts: make(map[string]models.Department),
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Failed to seed fixture: %v", err)
		}
	}

	f.Version = models.ModelVersion{HospitalID: HospitalID, Name: "2025", IsActive: true}
	must(gormDB.Create(&f.Version).Error)

	node := func(code string, typ models.NodeType, parent string, leaf bool, weight string, sortOrder int, items ...string) {
		n := models.ScoringNode{
			VersionID:       f.Version.ID,
			Code:            code,
			Name:            code,
			NodeType:        typ,
			IsLeaf:          leaf,
			Measure:         models.MeasureQuantity,
			SortOrder:       sortOrder,
			SourceItemCodes: items,
		}
		if parent != "" {
			p := f.Nodes[parent].ID
			n.ParentID = &p
		}
		if weight != "" {
			n.Weight = NullDec(weight)
		}
		must(gormDB.Create(&n).Error)
		f.Nodes[code] = n
	}
	node("DOC", models.NodeSequence, "", false, "", 1)
	node("DOC-OUT", models.NodeDimension, "DOC", false, "", 1)
	node("DOC-VISIT", models.NodeDimension, "DOC-OUT", true, "55", 1, "V001")
	node("DOC-SURG", models.NodeDimension, "DOC-OUT", true, "60", 2, "S001")
	node("DOC-CONSULT", models.NodeDimension, "DOC", true, "10", 2, "C001")
	node("NUR", models.NodeSequence, "", false, "", 2)
	node("NUR-CARE", models.NodeDimension, "NUR", true, "2", 1, "N001")

	for _, code := range []string{"D01", "D02"} {
		d := models.Department{HospitalID: HospitalID, Code: code, Name: code, IsActive: true}
		must(gormDB.Create(&d).Error)
		f.Depts[code] = d
	}

	charges := []struct {
		dept, item, qty string
	}{
		{"D01", "V001", "1000"},
		{"D01", "S001", "600"},
		{"D02", "V001", "200"},
		{"D02", "N001", "50"},
	}
	for _, c := range charges {
		must(gormDB.Create(&models.ChargeDetail{
			HospitalID:     HospitalID,
			DepartmentCode: c.dept,
			ItemCode:       c.item,
			Period:         Period,
			Quantity:       Dec(c.qty),
			Amount:         Dec(c.qty).Mul(Dec("12.5")),
			ChargedAt:      time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC),
		}).Error)
	}

	f.Workflow = models.Workflow{VersionID: f.Version.ID, Name: "monthly value"}
	must(gormDB.Create(&f.Workflow).Error)
	return f
}

// AddStep appends an enabled step to the fixture workflow.
func (f *Fixture) AddStep(t testing.TB, gormDB *gorm.DB, name string, kind models.CodeKind, sortOrder string, code string) models.Step {
	t.Helper()
	s := models.Step{
		WorkflowID: f.Workflow.ID,
		Name:       name,
		CodeKind:   kind,
		CodeText:   code,
		SortOrder:  Dec(sortOrder),
		IsEnabled:  true,
	}
	if err := gormDB.Create(&s).Error; err != nil {
		t.Fatalf("Failed to seed step %s: %v", name, err)
	}
	return s
}

// NewTask inserts a pending task for the fixture workflow.
func (f *Fixture) NewTask(t testing.TB, gormDB *gorm.DB, taskID, batchID string) *models.Task {
	t.Helper()
	task := &models.Task{
		TaskID:     taskID,
		WorkflowID: f.Workflow.ID,
		VersionID:  f.Version.ID,
		HospitalID: HospitalID,
		Period:     Period,
		Status:     models.TaskPending,
		BatchID:    batchID,
		CreatedAt:  time.Now(),
	}
	if err := gormDB.Create(task).Error; err != nil {
		t.Fatalf("Failed to seed task %s: %v", taskID, err)
	}
	return task
}
