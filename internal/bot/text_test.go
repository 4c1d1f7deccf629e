package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yanizio/loungebot/internal/broadcast"
	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/loyalty"
	"github.com/yanizio/loungebot/internal/tier"
	"github.com/yanizio/loungebot/internal/timeutil"
)

func TestCardTextWithBonusAndMedals(t *testing.T) {
	u := identity.User{ID: 7, FirstName: "Anna", LastName: "<K>"}
	v := loyalty.CardView{
		Registered: true,
		Card:       cards.Card{Number: "0427", Visits: 7},
		Level:      "BRONZE🥉",
		Base:       5,
		Bonus:      10,
		Total:      15,
		Next:       tier.Tier{Label: "SILVER", Badge: "🥈"},
		Remaining:  8,
		HasNext:    true,
		Medals:     "🥇🥉",
	}
	want := "<b>КАРТА LEVEL</b>\n\n" +
		"Anna &lt;K&gt;, твой уровень: <b>BRONZE🥉</b>\n" +
		"Номер карты: <b>0427</b>\n\n" +
		"Всего визитов: <b>7</b>\n" +
		"Скидка: <b>5%</b>, плюс <b>10%</b>\nОбщая скидка: <b>15%</b>\n" +
		"До <b>SILVER🥈</b> осталось: <b>8 визитов</b>\n" +
		"Всего медалей: 🥇🥉"
	assert.Equal(t, want, cardText(u, v))
}

func TestCardTextSuperadminAndUnregistered(t *testing.T) {
	v := loyalty.CardView{Level: "SUPERADMIN🥷", Superadmin: true, Staff: true, Base: 3, Total: 3}
	got := cardText(identity.User{ID: 1}, v)
	assert.Contains(t, got, "Твой уровень: <b>SUPERADMIN🥷</b>")
	assert.Contains(t, got, "Скидка: <b>3%</b>")
	assert.NotContains(t, got, "Общая скидка")
	assert.NotContains(t, got, "осталось")
	assert.Contains(t, got, "нажми /start")
}

func TestCardTextPlural(t *testing.T) {
	v := loyalty.CardView{
		Registered: true,
		Level:      "SILVER🥈",
		Next:       tier.Tier{Label: "GOLD", Badge: "🥇"},
		Remaining:  1,
		HasNext:    true,
	}
	assert.Contains(t, cardText(identity.User{FirstName: "Ivan"}, v), "осталось: <b>1 визит</b>")
}

func TestRatingText(t *testing.T) {
	m := timeutil.Month{Year: 2026, Month: time.March}
	rows := []ratingRow{{Entry: leaderboard.Entry{Place: 1, UserID: 5, Visits: 4}, Name: "Gina"}}
	got := ratingText(m, leaderboard.DefaultAwards(), rows, false)

	assert.Contains(t, got, "<b>РЕЙТИНГ ГОСТЕЙ</b>")
	assert.Contains(t, got, "Топ по визитам за <b>март</b>")
	assert.Contains(t, got, "🥇 - <b>Gina</b>\n🥈 - свободно\n🥉 - свободно")
	assert.Contains(t, got, "🥇 +10% на апрель")
	assert.NotContains(t, got, "Стартуем")

	dec := ratingText(timeutil.Month{Year: 2026, Month: time.December}, leaderboard.DefaultAwards(), nil, true)
	assert.Contains(t, dec, "на январь")
	assert.Contains(t, dec, "(Стартуем скоро)")
}

func TestVisitAndBroadcastText(t *testing.T) {
	res := loyalty.VisitResult{Discount: 13}
	assert.Equal(t, "Визит засчитан.\nСкидка <b>13%</b>", visitText(res, false))
	assert.Equal(t, "Сегодня уже визит был засчитан.\nМаксимум один визит в день.\nСкидка <b>13%</b>", visitText(res, true))
	assert.Equal(t, "Готово.\nОтправлено: 4\nОшибок: 1", broadcastText(broadcast.Report{Sent: 4, Failed: 1}))
}
