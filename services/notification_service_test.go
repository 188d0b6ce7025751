package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enom_tracker/models"
)

type sentMessage struct {
	chatID int64
	text   string
}

// fakeSender запоминает отправленные сообщения
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	return s.err
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func TestNotificationService_TicketAssigned(t *testing.T) {
	sender := &fakeSender{}
	svc := NewNotificationService(sender, 0, nil)

	ticket := &models.Ticket{TicketNumber: "TKT-20240304100000", Category: models.CategoryTechnical, Description: "Rectifier <fail>"}
	svc.TicketAssigned(ticket, &models.User{Username: "enom_rizki", TelegramID: "123456"})
	svc.TicketAssigned(ticket, &models.User{Username: "enom_budi"})
	svc.TicketAssigned(ticket, &models.User{Username: "enom_dewi", TelegramID: "not-a-number"})
	svc.Wait()

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(123456), msgs[0].chatID)
	assert.Contains(t, msgs[0].text, "TKT-20240304100000")
	assert.Contains(t, msgs[0].text, "Rectifier &lt;fail&gt;")
}

func TestNotificationService_PlanReviewedAndIngest(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram unavailable")}
	svc := NewNotificationService(sender, -100500, nil)

	plan := &models.DailyPlan{PlanDate: CivilDate(2024, 3, 4), Status: models.PlanRejected}
	svc.PlanReviewed(plan, &models.User{Username: "enom_rizki", TelegramID: "42"}, "too many sites")
	svc.AlarmsIngested(&IngestResult{Processed: 3, Skipped: 1}, models.AlarmCellDown, "xl_noc")
	svc.AlarmsIngested(nil, models.AlarmCellDown, "xl_noc")
	svc.Wait()

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	byChat := map[int64]string{}
	for _, m := range msgs {
		byChat[m.chatID] = m.text
	}
	assert.Contains(t, byChat[42], "2024-03-04")
	assert.Contains(t, byChat[42], "too many sites")
	assert.Contains(t, byChat[-100500], "3 (пропущено 1)")
}

func TestNotificationService_NoSender(t *testing.T) {
	svc := NewNotificationService(nil, 1, nil)
	svc.AlarmsIngested(&IngestResult{Processed: 1}, models.AlarmOther, "xl_noc")

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait не завершился без отправителя")
	}
}
