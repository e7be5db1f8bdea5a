package core

import (
	"fmt"
	"strings"
	"time"
)

// MaxNotifications caps the notification log; the oldest entries are evicted.
const MaxNotifications = 20

type Notification struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
	Read    bool   `json:"read"`
}

// NotificationLog keeps the most recent notifications, newest first. Ids are
// millisecond timestamps bumped when needed so they stay strictly increasing.
type NotificationLog struct {
	items  []Notification
	lastID int64
}

func NewNotificationLog() *NotificationLog {
	return &NotificationLog{}
}

// Add records msg at time now and returns the stored notification.
func (l *NotificationLog) Add(now time.Time, msg string) Notification {
	id := now.UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	n := Notification{ID: id, Message: msg}
	l.items = append([]Notification{n}, l.items...)
	if len(l.items) > MaxNotifications {
		l.items = l.items[:MaxNotifications]
	}
	return n
}

// List returns a copy of the log, newest first.
func (l *NotificationLog) List() []Notification {
	return append(make([]Notification, 0, len(l.items)), l.items...)
}

// Unread counts unread notifications.
func (l *NotificationLog) Unread() int {
	n := 0
	for _, item := range l.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkAllRead flags every notification as read.
func (l *NotificationLog) MarkAllRead() {
	for i := range l.items {
		l.items[i].Read = true
	}
}

// Mentions reports whether some notification contains every fragment.
func (l *NotificationLog) Mentions(fragments ...string) bool {
	for _, item := range l.items {
		all := true
		for _, f := range fragments {
			if !strings.Contains(item.Message, f) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Notification and command texts shown to users.

func MsgResidentAdded(r Resident) string {
	return fmt.Sprintf("%s yeni sakin olarak eklendi.", r.FullName)
}

func MsgResidentUpdated(r Resident) string {
	return fmt.Sprintf("%s bilgileri güncellendi.", r.FullName)
}

func MsgResidentDeleted(name string) string {
	if name == "" {
		name = "Bilinmeyen sakin"
	}
	return fmt.Sprintf("%s sistemden silindi.", name)
}

func MsgPeriodAdded(p DuesPeriod) string {
	return fmt.Sprintf("%s için yeni aidat dönemi oluşturuldu.", p.Label)
}

func MsgExpenseAdded(e Expense) string {
	return fmt.Sprintf("%s masrafı eklendi.", e.Description)
}

func MsgExpenseUpdated(e Expense) string {
	return fmt.Sprintf("%s masrafı güncellendi.", e.Description)
}

func MsgExpenseDeleted(desc string) string {
	if desc == "" {
		desc = "Bilinmeyen masraf"
	}
	return fmt.Sprintf("%s masrafı silindi.", desc)
}

const (
	MsgSettingsUpdated = "Uygulama ayarları güncellendi."
	MsgDataImported    = "Tüm veriler başarıyla içe aktarıldı."
	MsgNoPeriods       = "Hata: Henüz aidat dönemi oluşturulmamış."
)

func MsgOverdue(r Resident, p DuesPeriod) string {
	return fmt.Sprintf("%s isimli sakinin %s dönemi aidat ödemesi gecikmiştir.", r.FullName, p.Label)
}

func paidWord(paid bool) string {
	if paid {
		return "ödendi"
	}
	return "ödenmedi"
}

func MsgUnitNotFound(unit int) string {
	return fmt.Sprintf("Hata: %d numaralı daire bulunamadı.", unit)
}

func MsgDuesMarked(r Resident, p DuesPeriod, paid bool) string {
	return fmt.Sprintf("%s (Daire %d) - %s aidatı %s olarak işaretlendi.", r.FullName, r.UnitNumber, p.Label, paidWord(paid))
}

func MsgDuesConfirmed(unit int, p DuesPeriod, paid bool) string {
	return fmt.Sprintf("Tamamdır, %d numaralı dairenin %s dönemi aidatı %s olarak işaretlendi.", unit, p.Label, paidWord(paid))
}

func MsgExpenseConfirmed(e Expense) string {
	return fmt.Sprintf("Anlaşıldı, %s TL tutarında %s masrafı %s kategorisine eklendi.", FormatAmount(e.Amount), e.Description, e.Category)
}

func MsgExpenseRejected(err error) string {
	return fmt.Sprintf("Hata: masraf eklenemedi (%v).", err)
}
