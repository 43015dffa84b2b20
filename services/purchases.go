package services

import (
	"fmt"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	reasonPurchase = "شراء من المتجر"
	reasonRefund   = "استرداد نقاط - رفض طلب الشراء"
)

type PurchaseFilter struct {
	StudentID uint
	HalqaID   uint
	Status    string
	Pagination
}

// PurchaseService runs the reserve, deliver and reject workflow of catalog redemptions.
type PurchaseService struct {
	db     *gorm.DB
	notify Notifier
}

func NewPurchaseService(db *gorm.DB, notify Notifier) *PurchaseService {
	return &PurchaseService{db: db, notify: notify}
}

// takeStock decrements a limited stock by one; unlimited items pass through.
func takeStock(tx *gorm.DB, item *models.CatalogItem) error {
	if item.StockQuantity == nil {
		return nil
	}
	res := tx.Model(&models.CatalogItem{}).
		Where("id = ? AND stock_quantity > 0", item.ID).
		Update("stock_quantity", gorm.Expr("stock_quantity - 1"))
	if res.Error != nil {
		return errors.Wrap(res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return conflict("item is out of stock")
	}
	return nil
}

func returnStock(tx *gorm.DB, itemID uint) error {
	return errors.Wrap(tx.Model(&models.CatalogItem{}).
		Where("id = ? AND stock_quantity IS NOT NULL", itemID).
		Update("stock_quantity", gorm.Expr("stock_quantity + 1")).Error, "restore stock")
}

func loadPurchasable(tx *gorm.DB, itemID, centerID uint, scope string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	if err := tx.First(&item, itemID).Error; err != nil {
		return nil, lookup(err, "catalog item")
	}
	if item.CenterID != nil && *item.CenterID != centerID {
		return nil, notFound("catalog item")
	}
	if !item.IsActive {
		return nil, invalid("catalog_item_id", "item is not available")
	}
	if item.Scope != scope {
		if scope == models.ScopeStudent {
			return nil, invalid("catalog_item_id", "group items are bought through a halqa vote")
		}
		return nil, invalid("catalog_item_id", "item is not a group item")
	}
	if item.StockQuantity != nil && *item.StockQuantity <= 0 {
		return nil, conflict("item is out of stock")
	}
	return &item, nil
}

// Create reserves an item for the calling student. Inside one transaction the student row
// is locked, balances are re-aggregated, spend entries and the pending request are written.
func (s *PurchaseService) Create(actor access.Actor, studentID, itemID uint) (*models.PurchaseRequest, error) {
	if err := requireCapability(actor, access.RequestPurchases); err != nil {
		return nil, err
	}
	if !actor.IsStudent(studentID) {
		return nil, forbidden("students may only purchase for themselves")
	}

	var req *models.PurchaseRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx, "students", studentID); err != nil {
			return err
		}
		st, err := loadStudent(tx, studentID)
		if err != nil {
			return err
		}
		if !st.IsActive {
			return forbidden("student account is inactive")
		}
		item, err := loadPurchasable(tx, itemID, st.CenterID, models.ScopeStudent)
		if err != nil {
			return err
		}

		points, err := sumDelta(tx, models.SubjectStudent, studentID, models.CurrencyPoints)
		if err != nil {
			return err
		}
		badges, err := sumDelta(tx, models.SubjectStudent, studentID, models.CurrencyBadges)
		if err != nil {
			return err
		}
		var flds []FieldError
		if item.PointsCost > points {
			flds = append(flds, FieldError{Field: "points", Error: fmt.Sprintf("need %d, have %d", item.PointsCost, points)})
		}
		if item.BadgesCost > badges {
			flds = append(flds, FieldError{Field: "badges", Error: fmt.Sprintf("need %d, have %d", item.BadgesCost, badges)})
		}
		if len(flds) > 0 {
			return NewValidationError("insufficient balance", flds...)
		}

		if err := takeStock(tx, item); err != nil {
			return err
		}
		req = &models.PurchaseRequest{
			StudentID:     uintPtr(studentID),
			CenterID:      st.CenterID,
			CatalogItemID: item.ID,
			PointsSpent:   item.PointsCost,
			BadgesSpent:   item.BadgesCost,
			Status:        models.PurchasePending,
			PurchasedAt:   nowUTC(),
		}
		if err := tx.Create(req).Error; err != nil {
			return errors.Wrap(err, "create purchase request")
		}
		return s.spend(tx, req, models.SubjectStudent, studentID, actor.UserID)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"purchase_id": req.ID, "student_id": studentID, "item_id": itemID}).Info("purchase reserved")
	send(s.notify, staffUserIDs(s.db, req.CenterID, access.RoleCenterAdmin, access.RoleCommunicationOfficer),
		notifications.New("طلب شراء جديد", "يوجد طلب شراء بانتظار المراجعة", models.NotificationInfo).From("purchase", req.ID))
	return req, nil
}

// createGroupPurchase charges a passed vote's item to the halqa ledger. The request has no
// student; the initiator stays on the vote.
func (s *PurchaseService) createGroupPurchase(tx *gorm.DB, vote *models.GroupPurchaseVote, by uint) (*models.PurchaseRequest, error) {
	if err := lockRow(tx, "halaqat", vote.HalqaID); err != nil {
		return nil, err
	}
	item, err := loadPurchasable(tx, vote.CatalogItemID, vote.CenterID, models.ScopeGroup)
	if err != nil {
		return nil, err
	}
	points, err := sumDelta(tx, models.SubjectHalqa, vote.HalqaID, models.CurrencyPoints)
	if err != nil {
		return nil, err
	}
	if item.PointsCost > points {
		return nil, NewValidationError("insufficient group balance",
			FieldError{Field: "points", Error: fmt.Sprintf("need %d, have %d", item.PointsCost, points)})
	}
	if err := takeStock(tx, item); err != nil {
		return nil, err
	}
	req := &models.PurchaseRequest{
		HalqaID:       uintPtr(vote.HalqaID),
		CenterID:      vote.CenterID,
		CatalogItemID: item.ID,
		VoteID:        uintPtr(vote.ID),
		PointsSpent:   item.PointsCost,
		Status:        models.PurchasePending,
		PurchasedAt:   nowUTC(),
	}
	if err := tx.Create(req).Error; err != nil {
		return nil, errors.Wrap(err, "create group purchase")
	}
	if err := s.spend(tx, req, models.SubjectHalqa, vote.HalqaID, by); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PurchaseService) spend(tx *gorm.DB, req *models.PurchaseRequest, subjectType string, subjectID, by uint) error {
	entries := []models.LedgerEntry{
		{Currency: models.CurrencyPoints, Delta: -req.PointsSpent},
		{Currency: models.CurrencyBadges, Delta: -req.BadgesSpent},
	}
	for i := range entries {
		e := &entries[i]
		e.SubjectType = subjectType
		e.SubjectID = subjectID
		e.Kind = models.EntrySpend
		e.Reason = reasonPurchase
		e.SourceType = "purchase"
		e.SourceID = uintPtr(req.ID)
		e.CreatedBy = uintPtr(by)
		if err := appendEntry(tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *PurchaseService) load(actor access.Actor, id uint) (*models.PurchaseRequest, error) {
	var req models.PurchaseRequest
	if err := s.db.Preload("CatalogItem").First(&req, id).Error; err != nil {
		return nil, lookup(err, "purchase request")
	}
	return &req, nil
}

// Get returns a request visible to the actor.
func (s *PurchaseService) Get(actor access.Actor, id uint) (*models.PurchaseRequest, error) {
	req, err := s.load(actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsStaff() {
		if !actor.InCenter(req.CenterID) {
			return nil, notFound("purchase request")
		}
		return req, nil
	}
	if req.StudentID == nil {
		if _, err := voter(s.db, actor, *req.HalqaID); err != nil {
			return nil, notFound("purchase request")
		}
		return req, nil
	}
	st, err := loadStudent(s.db, *req.StudentID)
	if err != nil {
		return nil, err
	}
	if err := canSeeStudent(s.db, actor, st); err != nil {
		return nil, notFound("purchase request")
	}
	return req, nil
}

// Deliver moves a pending request to delivered.
func (s *PurchaseService) Deliver(actor access.Actor, id uint) (*models.PurchaseRequest, error) {
	return s.decide(actor, id, true, "")
}

// Reject moves a pending request to rejected and refunds the spent points. Spent badges
// are kept; the request records them in BadgesSpent.
func (s *PurchaseService) Reject(actor access.Actor, id uint, reason string) (*models.PurchaseRequest, error) {
	return s.decide(actor, id, false, reason)
}

func (s *PurchaseService) decide(actor access.Actor, id uint, deliver bool, reason string) (*models.PurchaseRequest, error) {
	if err := requireCapability(actor, access.DecidePurchases); err != nil {
		return nil, err
	}
	req, err := s.load(actor, id)
	if err != nil {
		return nil, err
	}
	if err := staffInCenter(actor, req.CenterID); err != nil {
		return nil, err
	}

	now := nowUTC()
	updates := map[string]interface{}{"decided_by": actor.UserID}
	if deliver {
		updates["status"] = models.PurchaseDelivered
		updates["delivered_at"] = now
	} else {
		updates["status"] = models.PurchaseRejected
		updates["rejected_at"] = now
		updates["rejection_reason"] = reason
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PurchaseRequest{}).
			Where("id = ? AND status = ?", id, models.PurchasePending).
			Updates(updates)
		if res.Error != nil {
			return errors.Wrap(res.Error, "update purchase status")
		}
		if res.RowsAffected == 0 {
			return conflict("purchase request was already decided")
		}
		if deliver {
			return nil
		}

		subjectType, subjectID := models.SubjectHalqa, *req.HalqaID
		if req.StudentID != nil {
			subjectType, subjectID = models.SubjectStudent, *req.StudentID
		}
		if err := appendEntry(tx, &models.LedgerEntry{
			SubjectType: subjectType,
			SubjectID:   subjectID,
			Currency:    models.CurrencyPoints,
			Delta:       req.PointsSpent,
			Kind:        models.EntryRefund,
			Reason:      reasonRefund,
			SourceType:  "purchase",
			SourceID:    uintPtr(req.ID),
			CreatedBy:   uintPtr(actor.UserID),
		}); err != nil {
			return err
		}
		return returnStock(tx, req.CatalogItemID)
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"purchase_id": id, "by": actor.UserID}
	if !deliver && req.BadgesSpent > 0 {
		fields["badges_not_refunded"] = req.BadgesSpent
	}
	logrus.WithFields(fields).Info("purchase decided: " + updates["status"].(string))

	title, msg := "تم تسليم طلبك", "تم تسليم "+req.CatalogItem.Name
	if !deliver {
		title, msg = "تم رفض طلبك", "تم رفض طلب "+req.CatalogItem.Name+" وإعادة النقاط"
	}
	var recipients []uint
	if req.StudentID != nil {
		recipients = []uint{*req.StudentID}
	} else {
		s.db.Model(&models.Student{}).Where("halqa_id = ? AND is_active = ?", *req.HalqaID, true).Pluck("id", &recipients)
	}
	send(s.notify, studentUserIDs(s.db, recipients...), notifications.New(title, msg, models.NotificationInfo).From("purchase", id))

	return s.load(actor, id)
}

// List returns requests visible to the actor, newest first.
func (s *PurchaseService) List(actor access.Actor, f PurchaseFilter) ([]models.PurchaseRequest, int64, error) {
	q := s.db.Model(&models.PurchaseRequest{})
	switch {
	case actor.Role.IsStaff():
		q = scopeCenter(q, actor, "center_id")
	case actor.StudentID != nil:
		q = q.Where("student_id = ?", *actor.StudentID)
	case actor.ParentID != nil:
		q = q.Where("student_id IN (?)", s.db.Model(&models.StudentParent{}).
			Select("student_id").Where("parent_id = ?", *actor.ParentID))
	default:
		return nil, 0, forbidden("no purchase scope")
	}
	if f.StudentID != 0 {
		q = q.Where("student_id = ?", f.StudentID)
	}
	if f.HalqaID != 0 {
		q = q.Where("halqa_id = ?", f.HalqaID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count purchases")
	}
	offset, limit := f.normalize()
	var out []models.PurchaseRequest
	if err := q.Preload("CatalogItem").Order("purchased_at DESC, id DESC").
		Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list purchases")
	}
	return out, total, nil
}
