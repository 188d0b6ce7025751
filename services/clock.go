package services

import (
	"time"
	_ "time/tzdata"

	"enom_tracker/models"
)

// DefaultZoneName часовой пояс региона эксплуатации
const DefaultZoneName = "Asia/Jakarta"

// Clock источник текущего времени. Now всегда возвращает UTC.
type Clock interface {
	Now() time.Time
}

// SystemClock системные часы
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock часы с заданным моментом (для отчетов на дату и тестов)
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time {
	return c.At.UTC()
}

// Zone фиксированный часовой пояс отображения.
// В базе все отметки времени хранятся в UTC, перевод выполняется только здесь.
type Zone struct {
	loc *time.Location
}

// LoadZone загружает зону по имени IANA
func LoadZone(name string) (*Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, Validationf("неизвестный часовой пояс %q", name)
	}
	return &Zone{loc: loc}, nil
}

// MustLoadZone как LoadZone, но паникует при ошибке
func MustLoadZone(name string) *Zone {
	z, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

func (z *Zone) Location() *time.Location {
	return z.loc
}

func (z *Zone) Name() string {
	return z.loc.String()
}

// ToLocal переводит момент времени в локальную зону
func (z *Zone) ToLocal(t time.Time) time.Time {
	return t.In(z.loc)
}

// ToUTC трактует показания часов local как локальное время зоны и возвращает UTC
func (z *Zone) ToUTC(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), z.loc).UTC()
}

// StartOfLocalDay полночь локального дня, в который попадает t, в UTC
func (z *Zone) StartOfLocalDay(t time.Time) time.Time {
	l := z.ToLocal(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.loc).UTC()
}

// DaysAgo граница окна "последние n дней": локальная полночь дня (сегодня - n), в UTC
func (z *Zone) DaysAgo(now time.Time, n int) time.Time {
	l := z.ToLocal(now)
	return time.Date(l.Year(), l.Month(), l.Day()-n, 0, 0, 0, 0, z.loc).UTC()
}

// LocalDate календарная дата момента t в локальной зоне, представленная полуночью UTC.
// В таком виде хранится plan_date.
func (z *Zone) LocalDate(t time.Time) time.Time {
	l := z.ToLocal(t)
	return CivilDate(l.Year(), l.Month(), l.Day())
}

// Today текущая локальная дата
func (z *Zone) Today(clock Clock) time.Time {
	return z.LocalDate(clock.Now())
}

// CivilDate календарная дата как полночь UTC
func CivilDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseCivilDate разбирает дату в формате YYYY-MM-DD
func ParseCivilDate(value string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, Validationf("некорректная дата %q, ожидается YYYY-MM-DD", value)
	}
	return d.UTC(), nil
}

// Actor пользователь, от имени которого выполняется операция
type Actor struct {
	ID       uint        `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

func (a Actor) IsDispatcher() bool {
	return a.Role == models.RoleDispatcher
}

func (a Actor) IsTechnician() bool {
	return a.Role == models.RoleTechnician
}

// ActorFromUser формирует Actor по пользователю
func ActorFromUser(u *models.User) Actor {
	return Actor{ID: u.ID, Username: u.Username, Role: u.Role}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
