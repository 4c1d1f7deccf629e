// internal/bot/text.go
//
// Reply copy.  Every renderer is a pure function of its inputs so the
// wording can be tested without a Telegram connection.  Replies are sent
// with ParseMode HTML, so user-controlled strings go through html.EscapeString.
package bot

import (
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"

	"github.com/yanizio/loungebot/internal/broadcast"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/loyalty"
	"github.com/yanizio/loungebot/internal/segment"
	"github.com/yanizio/loungebot/internal/timeutil"
)

const (
	msgNeedNumber     = "Нужно число (номер карты)."
	msgCardNotFound   = "Карта не найдена."
	msgSelfVisit      = "Нельзя засчитать визит самому себе."
	msgDenied         = "Недостаточно прав."
	msgUnknown        = "Неизвестная команда."
	msgFailed         = "Что-то пошло не так, попробуй позже."
	msgNeedUsername   = "Нужен username: /promote @username"
	msgBadUsername    = "Некорректный username."
	msgNotAdmin       = "Такого админа нет."
	msgNeedReply      = "Ответь командой /broadcast &lt;сегмент&gt; на пост, который нужно разослать."
	msgUnknownSegment = "Неизвестный сегмент.  Список: /segments"
	msgNoAdmins       = "Админов пока нет."
)

var monthNames = [...]string{
	"январь", "февраль", "март", "апрель", "май", "июнь",
	"июль", "август", "сентябрь", "октябрь", "ноябрь", "декабрь",
}

func monthName(m timeutil.Month) string {
	if m.Month < 1 || m.Month > 12 {
		return ""
	}
	return monthNames[m.Month-1]
}

func b(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }

/*──────────────────────────── guest card ──────────────────────────────────*/

func cardText(u identity.User, v loyalty.CardView) string {
	var sb strings.Builder
	sb.WriteString("<b>КАРТА LEVEL</b>\n\n")
	if v.Superadmin {
		fmt.Fprintf(&sb, "Твой уровень: %s\n", b(v.Level))
	} else {
		fmt.Fprintf(&sb, "%s, твой уровень: %s\n", html.EscapeString(u.DisplayName("Гость")), b(v.Level))
	}
	if v.Registered {
		fmt.Fprintf(&sb, "Номер карты: %s\n", b(v.Card.Number))
	} else {
		sb.WriteString("Карта ещё не выдана, нажми /start\n")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Всего визитов: <b>%d</b>\n", v.Card.Visits)
	if v.Bonus > 0 {
		fmt.Fprintf(&sb, "Скидка: <b>%d%%</b>, плюс <b>%d%%</b>\nОбщая скидка: <b>%d%%</b>", v.Base, v.Bonus, v.Total)
	} else {
		fmt.Fprintf(&sb, "Скидка: <b>%d%%</b>", v.Base)
	}
	if v.HasNext {
		fmt.Fprintf(&sb, "\nДо %s осталось: <b>%d %s</b>", b(v.Next.Display()), v.Remaining, segment.Visits(v.Remaining))
	}
	if v.Medals != "" {
		fmt.Fprintf(&sb, "\nВсего медалей: %s", v.Medals)
	}
	return sb.String()
}

func registeredText(level string) string {
	return fmt.Sprintf("Готово, карта %s зарегистрирована.", b(level))
}

/*──────────────────────────── visits ──────────────────────────────────────*/

func visitText(res loyalty.VisitResult, duplicate bool) string {
	if duplicate {
		return fmt.Sprintf("Сегодня уже визит был засчитан.\nМаксимум один визит в день.\nСкидка <b>%d%%</b>", res.Discount)
	}
	return fmt.Sprintf("Визит засчитан.\nСкидка <b>%d%%</b>", res.Discount)
}

/*──────────────────────────── rating ──────────────────────────────────────*/

// ratingRow is a leaderboard entry with the name to show.
type ratingRow struct {
	leaderboard.Entry
	Name string
}

func ratingText(m timeutil.Month, awards []leaderboard.Award, rows []ratingRow, beforeLaunch bool) string {
	var sb strings.Builder
	sb.WriteString("<b>РЕЙТИНГ ГОСТЕЙ</b>\n\n")
	fmt.Fprintf(&sb, "Топ по визитам за %s\n", b(monthName(m)))
	if beforeLaunch {
		sb.WriteString("(Стартуем скоро)\n")
	}
	sb.WriteString("\n")

	byPlace := make(map[int]ratingRow, len(rows))
	for _, r := range rows {
		byPlace[r.Place] = r
	}
	for _, a := range awards {
		prefix := a.Medal
		if prefix == "" {
			prefix = fmt.Sprintf("%d.", a.Place)
		}
		if r, ok := byPlace[a.Place]; ok {
			fmt.Fprintf(&sb, "%s - %s\n", prefix, b(r.Name))
		} else {
			fmt.Fprintf(&sb, "%s - свободно\n", prefix)
		}
	}

	sb.WriteString("\n<b>Награды месяца:</b>\n")
	for _, a := range awards {
		if a.Bonus > 0 {
			fmt.Fprintf(&sb, "%s +%d%% на %s\n", a.Medal, a.Bonus, monthName(m.Next()))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

/*──────────────────────────── staff screens ───────────────────────────────*/

func adminsText(rows []loyalty.AdminRow) string {
	if len(rows) == 0 {
		return msgNoAdmins
	}
	var sb strings.Builder
	sb.WriteString("<b>АДМИНЫ</b>\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n%s\nсегодня %d · неделя %d · месяц %d · всего %d\n",
			html.EscapeString(r.Label()), r.Marked.Today, r.Marked.Week, r.Marked.Month, r.Marked.Total)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func promotedText(username string, uid int64) string {
	if uid == 0 {
		return fmt.Sprintf("@%s добавлен в админы.  Права включатся, когда он напишет боту.", html.EscapeString(username))
	}
	return fmt.Sprintf("@%s теперь админ.", html.EscapeString(username))
}

func demotedText(username string) string {
	return fmt.Sprintf("@%s больше не админ.", html.EscapeString(username))
}

func statsText(st loyalty.Stats) string {
	var sb strings.Builder
	sb.WriteString("<b>СТАТИСТИКА</b>\n\n")
	fmt.Fprintf(&sb, "Активных подписчиков: <b>%d</b>\n\n", st.Active)
	fmt.Fprintf(&sb, "Подписались: %d / %d / %d\n", st.Subscribed.Today, st.Subscribed.Week, st.Subscribed.Month)
	fmt.Fprintf(&sb, "Отписались: %d / %d / %d\n", st.Unsubscribed.Today, st.Unsubscribed.Week, st.Unsubscribed.Month)
	fmt.Fprintf(&sb, "Визиты: %d / %d / %d\n", st.Visits.Today, st.Visits.Week, st.Visits.Month)
	sb.WriteString("<i>сегодня / 7 дней / 30 дней</i>\n")
	if len(st.Tiers) > 0 {
		sb.WriteString("\n<b>Карты по уровням</b>\n")
		for _, label := range slices.Sorted(maps.Keys(st.Tiers)) {
			fmt.Fprintf(&sb, "%s: %d\n", html.EscapeString(label), st.Tiers[label])
		}
	}
	if len(st.TopAdmins) > 0 {
		sb.WriteString("\n<b>Админы за 30 дней</b>\n")
		for _, a := range st.TopAdmins {
			fmt.Fprintf(&sb, "%d: %d\n", a.AdminID, a.Visits)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func segmentsText(rows []segment.Count) string {
	var sb strings.Builder
	sb.WriteString("<b>СЕГМЕНТЫ</b>\n\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "<code>%s</code> %s: <b>%d</b>\n", html.EscapeString(r.Spec), html.EscapeString(r.Label), r.Size)
	}
	sb.WriteString("\nРассылка: ответь на пост командой /broadcast &lt;сегмент&gt;")
	return sb.String()
}

func broadcastStartedText(label string, n int) string {
	return fmt.Sprintf("Рассылка «%s»: получателей %d.", html.EscapeString(label), n)
}

func broadcastText(rep broadcast.Report) string {
	return fmt.Sprintf("Готово.\nОтправлено: %d\nОшибок: %d", rep.Sent, rep.Failed)
}
