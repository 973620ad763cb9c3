// internal/services/notification_service.go
package services

import (
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/i18n"
	"github.com/chanvault/chanvault-backend/internal/models"
)

// NotificationService is the sink the state machine writes to after every
// committed transition. Delivery is best-effort: a failed chat insert or
// email is logged and never fails the transition that triggered it.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
	}
}

// NotifyTransition posts the transition's system message into the deal chat
// and emails the affected parties.
func (s *NotificationService) NotifyTransition(deal *models.Deal, res dealflow.Result) {
	if res.NoticeKey == "" {
		return
	}

	body := i18n.T("en", res.NoticeKey, s.messageArgs(deal, res.NoticeKey)...)

	if err := s.PostSystemMessage(deal, res.NoticeKey, body); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"deal_id": deal.ID,
			"notice":  res.NoticeKey,
		}).Error("Failed to post system message")
	}

	s.emailParties(deal, res, body)
}

// PostSystemMessage appends a system entry to the deal's chat thread. The
// i18n key is stored alongside the rendered body so clients can re-localize.
func (s *NotificationService) PostSystemMessage(deal *models.Deal, key, body string) error {
	message := &models.DealMessage{
		DealID:     deal.ID,
		SenderID:   nil,
		Kind:       models.MessageKindSystem,
		MessageKey: key,
		Body:       body,
	}

	if err := s.db.Create(message).Error; err != nil {
		return fmt.Errorf("failed to create system message: %w", err)
	}
	return nil
}

// NotifyDealOpened posts the greeting message when a deal is created.
func (s *NotificationService) NotifyDealOpened(deal *models.Deal) {
	body := i18n.T("en", i18n.KeyDealMsgOpened, deal.Reference, deal.ChannelTitle)
	if err := s.PostSystemMessage(deal, i18n.KeyDealMsgOpened, body); err != nil {
		logrus.WithError(err).WithField("deal_id", deal.ID).Error("Failed to post deal opened message")
	}
}

// messageArgs supplies the format arguments each system message expects.
func (s *NotificationService) messageArgs(deal *models.Deal, key string) []interface{} {
	switch key {
	case i18n.KeyDealMsgSellerAgreed:
		return []interface{}{deal.EscrowFee, "USD"}
	case i18n.KeyDealMsgFeePaid:
		return []interface{}{string(deal.FeePaidBy), deal.FeePaidMethod}
	case i18n.KeyDealMsgAccessGrantedTimer:
		if deal.RightsTimerExpiresAt != nil {
			return []interface{}{deal.RightsTimerExpiresAt.UTC().Format("02 Jan 2006 15:04 MST")}
		}
		return []interface{}{"-"}
	}
	return nil
}

func (s *NotificationService) emailParties(deal *models.Deal, res dealflow.Result, body string) {
	var recipients []uuid.UUID
	if res.NotifyBuyer {
		recipients = append(recipients, deal.BuyerID)
	}
	if res.NotifySeller {
		recipients = append(recipients, deal.SellerID)
	}

	subject := fmt.Sprintf("Deal %s update", deal.Reference)
	for _, id := range recipients {
		var user models.User
		if err := s.db.First(&user, "id = ?", id).Error; err != nil {
			logrus.WithError(err).WithField("user_id", id).Warn("Notification recipient not found")
			continue
		}
		if err := s.sendEmail(user.Email, subject, body); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"deal_id": deal.ID,
				"email":   user.Email,
			}).Warn("Failed to send notification email")
		}
	}
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPUsername == "" {
		// Email disabled in this environment; the chat message is the
		// primary channel anyway.
		return nil
	}

	auth := smtp.PlainAuth("",
		s.config.Email.SMTPUsername,
		s.config.Email.SMTPPassword,
		s.config.Email.SMTPHost,
	)

	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body)

	addr := s.config.Email.SMTPHost + ":" + s.config.Email.SMTPPort
	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, []byte(msg))
}
