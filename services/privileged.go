package services

import (
	"encoding/json"
	"strings"

	"halaqat_go/access"
	"halaqat_go/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// PrivilegedRequest is a whitelisted raw write on one table.
type PrivilegedRequest struct {
	Action string         `json:"action"`
	Table  string         `json:"table"`
	Data   map[string]any `json:"data,omitempty"`
	ID     uint           `json:"id,omitempty"`
}

type ResultError struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Result is the single response shape of privileged operations.
type Result struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

// ResultOf builds the normalized result of an operation.
func ResultOf(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Data: data}
	}
	msg := err.Error()
	kind := Kind(err)
	if kind == "internal" {
		msg = "internal error"
	}
	return Result{Error: &ResultError{Kind: kind, Message: msg, Fields: FieldsOf(err)}}
}

type dependent struct {
	table  string
	column string
}

type privTable struct {
	newRow     func() any
	columns    []string
	required   []string
	globalOnly bool
	deletable  bool
	dependents []dependent
	// defaults are applied on insert when the key is missing.
	defaults map[string]any
}

var privTables = map[string]privTable{
	"centers": {
		newRow:     func() any { return &models.Center{} },
		columns:    []string{"name", "address", "phone", "is_active"},
		required:   []string{"name"},
		globalOnly: true,
		defaults:   map[string]any{"is_active": true},
	},
	"halaqat": {
		newRow:     func() any { return &models.Halqa{} },
		columns:    []string{"center_id", "name", "teacher_id", "capacity", "category", "is_active"},
		required:   []string{"name"},
		deletable:  true,
		dependents: []dependent{{"students", "halqa_id"}, {"reports", "halqa_id"}, {"group_purchase_votes", "halqa_id"}},
		defaults:   map[string]any{"is_active": true},
	},
	"students": {
		newRow:   func() any { return &models.Student{} },
		columns:  []string{"halqa_id", "full_name", "phone", "birth_date", "is_active"},
		required: []string{"halqa_id", "full_name"},
		defaults: map[string]any{"is_active": true},
	},
	"parents": {
		newRow:     func() any { return &models.Parent{} },
		columns:    []string{"center_id", "full_name", "phone", "line_user_id"},
		required:   []string{"full_name"},
		deletable:  true,
		dependents: []dependent{{"activity_approvals", "parent_id"}, {"holiday_attendances", "parent_id"}},
	},
	"student_parents": {
		newRow:    func() any { return &models.StudentParent{} },
		columns:   []string{"student_id", "parent_id", "relationship"},
		required:  []string{"student_id", "parent_id", "relationship"},
		deletable: true,
	},
	"catalog_items": {
		newRow:     func() any { return &models.CatalogItem{} },
		columns:    []string{"center_id", "name", "description", "points_cost", "badges_cost", "scope", "stock_quantity", "image_url", "is_active"},
		required:   []string{"name", "scope"},
		deletable:  true,
		dependents: []dependent{{"purchase_requests", "catalog_item_id"}, {"group_purchase_votes", "catalog_item_id"}},
		defaults:   map[string]any{"is_active": true},
	},
}

// PrivilegedService performs raw writes that bypass the per-operation services but keep
// tenant boundaries and row invariants.
type PrivilegedService struct {
	db *gorm.DB
}

func NewPrivilegedService(db *gorm.DB) *PrivilegedService {
	return &PrivilegedService{db: db}
}

// Execute runs req and always answers with a normalized Result.
func (s *PrivilegedService) Execute(actor access.Actor, req PrivilegedRequest) Result {
	data, err := s.execute(actor, req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"action": req.Action,
			"table":  req.Table,
			"id":     req.ID,
			"kind":   Kind(err),
		}).WithError(err).Warn("privileged operation refused")
	}
	return ResultOf(data, err)
}

func (s *PrivilegedService) execute(actor access.Actor, req PrivilegedRequest) (any, error) {
	if err := requireCapability(actor, access.ExecutePrivileged); err != nil {
		return nil, err
	}
	t, ok := privTables[req.Table]
	if !ok {
		return nil, invalid("table", "table is not allowed: "+req.Table)
	}
	if t.globalOnly && !actor.IsGlobal() {
		return nil, forbidden(req.Table + " are managed by super admins")
	}
	switch strings.ToLower(req.Action) {
	case ActionInsert:
		return s.insert(actor, req.Table, t, req.Data)
	case ActionUpdate:
		return s.update(actor, req.Table, t, req.ID, req.Data)
	case ActionDelete:
		return nil, s.delete(actor, req.Table, t, req.ID)
	}
	return nil, invalid("action", "action must be insert, update or delete")
}

// filterColumns rejects keys outside the table's writable columns.
func filterColumns(t privTable, data map[string]any) (map[string]any, error) {
	allowed := make(map[string]bool, len(t.columns))
	for _, c := range t.columns {
		allowed[c] = true
	}
	out := make(map[string]any, len(data))
	var flds []FieldError
	for k, v := range data {
		if !allowed[k] {
			flds = append(flds, FieldError{Field: k, Error: "column is not writable"})
			continue
		}
		out[k] = v
	}
	if len(flds) > 0 {
		return nil, NewValidationError("invalid columns", flds...)
	}
	return out, nil
}

func decodeRow(data map[string]any, row any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return invalid("data", "data is not valid JSON")
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return invalid("data", "data does not fit the table: "+err.Error())
	}
	return nil
}

func (s *PrivilegedService) insert(actor access.Actor, table string, t privTable, data map[string]any) (any, error) {
	cols, err := filterColumns(t, data)
	if err != nil {
		return nil, err
	}
	var flds []FieldError
	for _, r := range t.required {
		if v, ok := cols[r]; !ok || v == nil || v == "" {
			flds = append(flds, FieldError{Field: r, Error: r + " is required"})
		}
	}
	if len(flds) > 0 {
		return nil, NewValidationError("missing required columns", flds...)
	}
	for k, v := range t.defaults {
		if _, ok := cols[k]; !ok {
			cols[k] = v
		}
	}
	row := t.newRow()
	if err := decodeRow(cols, row); err != nil {
		return nil, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := prepareInsert(tx, actor, row, cols); err != nil {
			return err
		}
		if err := checkRow(tx, row); err != nil {
			return err
		}
		return errors.Wrap(tx.Create(row).Error, "insert "+table)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *PrivilegedService) load(tx *gorm.DB, actor access.Actor, t privTable, id uint) (any, error) {
	if id == 0 {
		return nil, invalid("id", "id is required")
	}
	row := t.newRow()
	if err := tx.First(row, id).Error; err != nil {
		return nil, lookup(err, "row")
	}
	center, err := rowCenter(tx, row)
	if err != nil {
		return nil, err
	}
	if !actor.IsGlobal() && (center == 0 || !actor.InCenter(center)) {
		return nil, notFound("row")
	}
	return row, nil
}

func (s *PrivilegedService) update(actor access.Actor, table string, t privTable, id uint, data map[string]any) (any, error) {
	cols, err := filterColumns(t, data)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, invalid("data", "nothing to update")
	}
	if _, ok := cols["center_id"]; ok && !actor.IsGlobal() {
		return nil, forbidden("only super admins move rows between centers")
	}
	if table == "student_parents" {
		if _, ok := cols["student_id"]; ok {
			return nil, invalid("student_id", "links are re-created, not moved")
		}
		if _, ok := cols["parent_id"]; ok {
			return nil, invalid("parent_id", "links are re-created, not moved")
		}
	}
	var row any
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if row, err = s.load(tx, actor, t, id); err != nil {
			return err
		}
		before, err := rowCenter(tx, row)
		if err != nil {
			return err
		}
		if err := decodeRow(cols, row); err != nil {
			return err
		}
		if err := checkRow(tx, row); err != nil {
			return err
		}
		after, err := rowCenter(tx, row)
		if err != nil {
			return err
		}
		if after != before && !actor.IsGlobal() {
			return forbidden("row would leave the center")
		}
		keys := make([]string, 0, len(cols)+1)
		for k := range cols {
			keys = append(keys, k)
		}
		if st, ok := row.(*models.Student); ok {
			// a student follows its halqa's center
			st.CenterID = after
			keys = append(keys, "center_id")
		}
		return errors.Wrap(tx.Model(row).Select(keys).Updates(row).Error, "update "+table)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *PrivilegedService) delete(actor access.Actor, table string, t privTable, id uint) error {
	if !t.deletable {
		return invalid("action", table+" are deactivated, not deleted")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.load(tx, actor, t, id)
		if err != nil {
			return err
		}
		for _, d := range t.dependents {
			var n int64
			if err := tx.Table(d.table).Where(d.column+" = ?", id).Count(&n).Error; err != nil {
				return errors.Wrap(err, "check "+d.table)
			}
			if n > 0 {
				return conflict(table + " row is still referenced by " + d.table)
			}
		}
		if _, ok := row.(*models.Parent); ok {
			if err := tx.Where("parent_id = ?", id).Delete(&models.StudentParent{}).Error; err != nil {
				return errors.Wrap(err, "delete parent links")
			}
		}
		return errors.Wrap(tx.Delete(row).Error, "delete "+table)
	})
}

// rowCenter returns the center owning row, or 0 for global rows.
func rowCenter(tx *gorm.DB, row any) (uint, error) {
	switch r := row.(type) {
	case *models.Center:
		return r.ID, nil
	case *models.Halqa:
		return r.CenterID, nil
	case *models.Student:
		if r.HalqaID == 0 {
			return r.CenterID, nil
		}
		h, err := loadHalqa(tx, r.HalqaID)
		if err != nil {
			return 0, invalid("halqa_id", "halqa does not exist")
		}
		return h.CenterID, nil
	case *models.Parent:
		return r.CenterID, nil
	case *models.StudentParent:
		st, err := loadStudent(tx, r.StudentID)
		if err != nil {
			return 0, invalid("student_id", "student does not exist")
		}
		return st.CenterID, nil
	case *models.CatalogItem:
		if r.CenterID == nil {
			return 0, nil
		}
		return *r.CenterID, nil
	}
	return 0, errors.Errorf("no center rule for %T", row)
}

// prepareInsert pins the row to the actor's center and fills derived columns.
func prepareInsert(tx *gorm.DB, actor access.Actor, row any, cols map[string]any) error {
	_, explicitCenter := cols["center_id"]
	centerFor := func(current uint) (uint, error) {
		if actor.IsGlobal() {
			if current == 0 {
				return 0, invalid("center_id", "center is required")
			}
			return current, nil
		}
		if explicitCenter && current != actor.CenterOrZero() {
			return 0, forbidden("cannot write into another center")
		}
		return actor.CenterOrZero(), nil
	}
	var err error
	switch r := row.(type) {
	case *models.Halqa:
		r.CenterID, err = centerFor(r.CenterID)
	case *models.Parent:
		r.CenterID, err = centerFor(r.CenterID)
	case *models.Student:
		var center uint
		if center, err = rowCenter(tx, r); err == nil {
			if !actor.IsGlobal() && !actor.InCenter(center) {
				err = forbidden("cannot write into another center")
			}
			r.CenterID = center
		}
	case *models.StudentParent:
		err = prepareLink(tx, actor, r)
	case *models.CatalogItem:
		if !actor.IsGlobal() {
			if explicitCenter && (r.CenterID == nil || *r.CenterID != actor.CenterOrZero()) {
				return forbidden("cannot write into another center")
			}
			r.CenterID = actor.CenterID
		}
	}
	return err
}

func prepareLink(tx *gorm.DB, actor access.Actor, link *models.StudentParent) error {
	if !validRelationship(link.Relationship) {
		return invalid("relationship", "unknown relationship")
	}
	st, err := loadStudent(tx, link.StudentID)
	if err != nil {
		return invalid("student_id", "student does not exist")
	}
	var p models.Parent
	if err := tx.First(&p, link.ParentID).Error; err != nil {
		return invalid("parent_id", "parent does not exist")
	}
	if p.CenterID != st.CenterID {
		return invalid("parent_id", "parent belongs to another center")
	}
	if !actor.IsGlobal() && !actor.InCenter(st.CenterID) {
		return forbidden("cannot write into another center")
	}
	var n int64
	if err := tx.Model(&models.StudentParent{}).Where("student_id = ? AND parent_id = ?", st.ID, p.ID).Count(&n).Error; err != nil {
		return errors.Wrap(err, "check link")
	}
	if n > 0 {
		return conflict("parent is already linked to this student")
	}
	return nil
}

// checkRow enforces the invariants of a row about to be written.
func checkRow(tx *gorm.DB, row any) error {
	switch r := row.(type) {
	case *models.Center:
		if strings.TrimSpace(r.Name) == "" {
			return invalid("name", "name is required")
		}
	case *models.Halqa:
		if strings.TrimSpace(r.Name) == "" {
			return invalid("name", "name is required")
		}
		if r.Capacity < 0 {
			return invalid("capacity", "must not be negative")
		}
		if r.TeacherID != nil {
			var t models.Teacher
			if err := tx.First(&t, *r.TeacherID).Error; err != nil || t.CenterID != r.CenterID {
				return invalid("teacher_id", "teacher does not belong to this center")
			}
		}
	case *models.Student:
		if strings.TrimSpace(r.FullName) == "" {
			return invalid("full_name", "full name is required")
		}
	case *models.Parent:
		if strings.TrimSpace(r.FullName) == "" {
			return invalid("full_name", "full name is required")
		}
	case *models.StudentParent:
		if !validRelationship(r.Relationship) {
			return invalid("relationship", "unknown relationship")
		}
	case *models.CatalogItem:
		return validateItem(CatalogItemInput{
			Name:          r.Name,
			PointsCost:    r.PointsCost,
			BadgesCost:    r.BadgesCost,
			Scope:         r.Scope,
			StockQuantity: r.StockQuantity,
		})
	}
	return nil
}
