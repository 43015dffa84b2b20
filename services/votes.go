package services

import (
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services/notifications"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultVoteDuration = 72 * time.Hour

type VoteFilter struct {
	HalqaID uint
	Status  string
	Pagination
}

// VoteService runs majority votes of a halqa on group catalog items.
type VoteService struct {
	db        *gorm.DB
	purchases *PurchaseService
	notify    Notifier
	duration  time.Duration
	now       func() time.Time
}

func NewVoteService(db *gorm.DB, purchases *PurchaseService, notify Notifier, duration time.Duration) *VoteService {
	if duration <= 0 {
		duration = defaultVoteDuration
	}
	return &VoteService{db: db, purchases: purchases, notify: notify, duration: duration, now: nowUTC}
}

// voter returns the actor's student row after checking it belongs to halqaID.
func voter(tx *gorm.DB, actor access.Actor, halqaID uint) (*models.Student, error) {
	if err := requireCapability(actor, access.CastVotes); err != nil {
		return nil, err
	}
	if actor.StudentID == nil {
		return nil, forbidden("only students take part in votes")
	}
	st, err := loadStudent(tx, *actor.StudentID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive || st.HalqaID != halqaID {
		return nil, forbidden("student is not an active member of this halqa")
	}
	return st, nil
}

// Start opens a vote on a group item. The active member count is snapshotted and the
// majority threshold is ceil(total/2).
func (s *VoteService) Start(actor access.Actor, halqaID, itemID uint) (*models.GroupPurchaseVote, error) {
	st, err := voter(s.db, actor, halqaID)
	if err != nil {
		return nil, err
	}
	if _, err := loadPurchasable(s.db, itemID, st.CenterID, models.ScopeGroup); err != nil {
		return nil, err
	}

	var vote *models.GroupPurchaseVote
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx, "halaqat", halqaID); err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&models.GroupPurchaseVote{}).
			Where("halqa_id = ? AND catalog_item_id = ? AND status = ?", halqaID, itemID, models.VoteOpen).
			Count(&open).Error; err != nil {
			return errors.Wrap(err, "check open votes")
		}
		if open > 0 {
			return conflict("a vote on this item is already open")
		}
		total, err := activeStudentCount(tx, halqaID)
		if err != nil {
			return errors.Wrap(err, "count members")
		}
		now := s.now()
		vote = &models.GroupPurchaseVote{
			HalqaID:            halqaID,
			CenterID:           st.CenterID,
			CatalogItemID:      itemID,
			InitiatorStudentID: st.ID,
			TotalStudents:      int(total),
			RequiredVotes:      models.RequiredVotes(int(total)),
			Status:             models.VoteOpen,
			EndsAt:             now.Add(s.duration),
		}
		return errors.Wrap(tx.Create(vote).Error, "create vote")
	})
	if err != nil {
		return nil, err
	}

	var members []uint
	s.db.Model(&models.Student{}).Where("halqa_id = ? AND is_active = ? AND id <> ?", halqaID, true, st.ID).Pluck("id", &members)
	send(s.notify, studentUserIDs(s.db, members...),
		notifications.New("تصويت جديد", "بدأ تصويت على شراء جماعي في حلقتك", models.NotificationInfo).From("vote", vote.ID))
	return vote, nil
}

// Cast records one ballot and re-evaluates the vote. A second ballot from the same student
// is a conflict; the unique (vote, student) index backs the pre-check.
func (s *VoteService) Cast(actor access.Actor, voteID uint, inFavor bool) (*models.GroupPurchaseVote, error) {
	var vote models.GroupPurchaseVote
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&vote, voteID).Error; err != nil {
			return lookup(err, "vote")
		}
		st, err := voter(tx, actor, vote.HalqaID)
		if err != nil {
			return err
		}
		if vote.Status != models.VoteOpen {
			return conflict("vote is " + vote.Status)
		}
		if s.now().After(vote.EndsAt) {
			return conflict("vote has ended")
		}

		var existing int64
		if err := tx.Model(&models.StudentVote{}).
			Where("vote_id = ? AND student_id = ?", voteID, st.ID).
			Count(&existing).Error; err != nil {
			return errors.Wrap(err, "check ballot")
		}
		if existing > 0 {
			return conflict("student already voted")
		}
		if err := tx.Create(&models.StudentVote{VoteID: voteID, StudentID: st.ID, InFavor: inFavor}).Error; err != nil {
			return conflict("student already voted")
		}

		column := "votes_against"
		if inFavor {
			column = "votes_for"
		}
		if err := tx.Model(&models.GroupPurchaseVote{}).Where("id = ?", voteID).
			Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
			return errors.Wrap(err, "increment tally")
		}
		if err := tx.First(&vote, voteID).Error; err != nil {
			return errors.Wrap(err, "reload vote")
		}

		next := evaluate(&vote)
		if next == models.VoteOpen {
			return nil
		}
		res := tx.Model(&models.GroupPurchaseVote{}).
			Where("id = ? AND status = ?", voteID, models.VoteOpen).
			Update("status", next)
		if res.Error != nil {
			return errors.Wrap(res.Error, "close vote")
		}
		vote.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if vote.Status == models.VotePassed {
		logrus.WithField("vote_id", vote.ID).Info("group vote passed")
		send(s.notify, staffUserIDs(s.db, vote.CenterID, access.RoleCenterAdmin, access.RoleCommunicationOfficer),
			notifications.New("تصويت ناجح", "نجح تصويت شراء جماعي وينتظر التحويل إلى طلب", models.NotificationSuccess).From("vote", vote.ID))
	}
	return &vote, nil
}

// evaluate returns the status a vote should move to given its tallies.
func evaluate(v *models.GroupPurchaseVote) string {
	switch {
	case v.VotesFor >= v.RequiredVotes:
		return models.VotePassed
	case v.VotesAgainst > v.TotalStudents-v.RequiredVotes:
		return models.VoteFailed
	}
	return models.VoteOpen
}

// ExpireVotes closes every open vote whose deadline passed before now.
func (s *VoteService) ExpireVotes(now time.Time) (int64, error) {
	res := s.db.Model(&models.GroupPurchaseVote{}).
		Where("status = ? AND ends_at < ?", models.VoteOpen, now).
		Update("status", models.VoteExpired)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "expire votes")
	}
	if res.RowsAffected > 0 {
		logrus.WithField("count", res.RowsAffected).Info("expired group votes")
	}
	return res.RowsAffected, nil
}

// Convert turns a passed vote into a pending group purchase charged to the halqa ledger.
// It is a staff decision; passing a vote alone never spends points.
func (s *VoteService) Convert(actor access.Actor, voteID uint) (*models.PurchaseRequest, error) {
	if err := requireCapability(actor, access.ConvertVotes); err != nil {
		return nil, err
	}
	var req *models.PurchaseRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var vote models.GroupPurchaseVote
		if err := tx.First(&vote, voteID).Error; err != nil {
			return lookup(err, "vote")
		}
		if err := staffInCenter(actor, vote.CenterID); err != nil {
			return err
		}
		if vote.Status != models.VotePassed {
			return conflict("only passed votes can be converted")
		}
		if vote.PurchaseRequestID != nil {
			return conflict("vote was already converted")
		}
		var err error
		if req, err = s.purchases.createGroupPurchase(tx, &vote, actor.UserID); err != nil {
			return err
		}
		res := tx.Model(&models.GroupPurchaseVote{}).
			Where("id = ? AND purchase_request_id IS NULL", voteID).
			Update("purchase_request_id", req.ID)
		if res.Error != nil {
			return errors.Wrap(res.Error, "link purchase")
		}
		if res.RowsAffected == 0 {
			return conflict("vote was already converted")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"vote_id": voteID, "purchase_id": req.ID}).Info("vote converted to purchase")
	return req, nil
}

// Get returns a vote with its ballots for staff, or without them for members.
func (s *VoteService) Get(actor access.Actor, voteID uint) (*models.GroupPurchaseVote, error) {
	var vote models.GroupPurchaseVote
	if err := s.db.Preload("CatalogItem").First(&vote, voteID).Error; err != nil {
		return nil, lookup(err, "vote")
	}
	if actor.Role.IsStaff() {
		if !actor.InCenter(vote.CenterID) {
			return nil, notFound("vote")
		}
		if err := s.db.Where("vote_id = ?", voteID).Order("id").Find(&vote.Ballots).Error; err != nil {
			return nil, errors.Wrap(err, "load ballots")
		}
		return &vote, nil
	}
	if _, err := voter(s.db, actor, vote.HalqaID); err != nil {
		return nil, notFound("vote")
	}
	return &vote, nil
}

// MyBallot returns the caller's ballot on a vote, or nil when not cast yet.
func (s *VoteService) MyBallot(actor access.Actor, voteID uint) (*models.StudentVote, error) {
	if actor.StudentID == nil {
		return nil, forbidden("only students take part in votes")
	}
	var b models.StudentVote
	err := s.db.Where("vote_id = ? AND student_id = ?", voteID, *actor.StudentID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &b, errors.Wrap(err, "load ballot")
}

func (s *VoteService) List(actor access.Actor, f VoteFilter) ([]models.GroupPurchaseVote, int64, error) {
	q := s.db.Model(&models.GroupPurchaseVote{})
	if actor.Role.IsStaff() {
		q = scopeCenter(q, actor, "center_id")
	} else {
		if actor.StudentID == nil {
			return nil, 0, forbidden("no vote scope")
		}
		st, err := loadStudent(s.db, *actor.StudentID)
		if err != nil {
			return nil, 0, err
		}
		q = q.Where("halqa_id = ?", st.HalqaID)
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
		return nil, 0, errors.Wrap(err, "count votes")
	}
	offset, limit := f.normalize()
	var out []models.GroupPurchaseVote
	err := q.Preload("CatalogItem").Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, errors.Wrap(err, "list votes")
}
