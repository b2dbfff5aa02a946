package report

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Locale carries every user-visible string of a report.
type Locale struct {
	Name     string
	Increase string
	Decrease string
	Filename string

	// Panel titles in grid order.
	Titles [Rows][Cols]string

	UsersAxis     string
	Last24h       string
	Previous24h   string
	CurrentWeeks  string
	PreviousWeeks string

	CohortNew      string
	CohortRetained string
	CohortGone     string

	text *template.Template
}

const ruText = `Метрики от {{date .Date}}

Лента новостей
DAU: {{int .FeedDAU}}
Среднее кол-во лайков на пользователя: {{dec .AvgLikes}}
Среднее кол-во просмотров на пользователя: {{dec .AvgViews}}
Количество новых пользователей на этой неделе: {{int .FeedNew.Latest}}, что на {{int .FeedNew.Magnitude}} {{word .FeedNew.Direction}} по сравнению с прошлой неделей

Мессенджер
DAU: {{int .MessagingDAU}}
Вовлеченность пользователей: {{dec .EngagementRatio}}
Количество новых пользователей на этой неделе: {{int .MessagingNew.Latest}}, что на {{int .MessagingNew.Magnitude}} {{word .MessagingNew.Direction}} по сравнению с прошлой неделей

DAU ленты новостей и мессенджера: {{int .BothDAU}}`

const enText = `Metrics for {{date .Date}}

Feed
DAU: {{int .FeedDAU}}
Average likes per user: {{dec .AvgLikes}}
Average views per user: {{dec .AvgViews}}
New users this week: {{int .FeedNew.Latest}}, {{int .FeedNew.Magnitude}} {{word .FeedNew.Direction}} than last week

Messenger
DAU: {{int .MessagingDAU}}
Engagement: {{dec .EngagementRatio}}
New users this week: {{int .MessagingNew.Latest}}, {{int .MessagingNew.Magnitude}} {{word .MessagingNew.Direction}} than last week

Feed and messenger DAU: {{int .BothDAU}}`

var locales = map[string]*Locale{
	"ru": mustLocale(&Locale{
		Name:     "ru",
		Increase: "больше",
		Decrease: "меньше",
		Filename: "Дашборд.png",
		Titles: [Rows][Cols]string{
			{"Мессенджер и лента новостей\nСуточная активность", "Лента новостей\nСуточная активность", "Мессенджер\nСуточная активность"},
			{"Мессенджер и лента новостей\nDAU", "Лента новостей\nДекомпозиция WAU", "Мессенджер\nДекомпозиция WAU"},
			{"Лента новостей\nDAU топ 5 городов", "Мессенджер\nDAU топ 5 городов", "Мессенджер\nВовлеченность пользователей"},
			{"Лента новостей\nDAU", "Лента новостей\nСреднее количество лайков", "Лента новостей\nСреднее количество просмотров"},
		},
		UsersAxis:      "Количество пользователей",
		Last24h:        "Последние 24 часа",
		Previous24h:    "Прошлые сутки",
		CurrentWeeks:   "Текущие 2 недели",
		PreviousWeeks:  "Предыдущие",
		CohortNew:      "Новые",
		CohortRetained: "Остались",
		CohortGone:     "Ушли",
	}, ruText),
	"en": mustLocale(&Locale{
		Name:     "en",
		Increase: "more",
		Decrease: "fewer",
		Filename: "dashboard.png",
		Titles: [Rows][Cols]string{
			{"Messenger and feed\nHourly activity", "Feed\nHourly activity", "Messenger\nHourly activity"},
			{"Messenger and feed\nDAU", "Feed\nWAU decomposition", "Messenger\nWAU decomposition"},
			{"Feed\nDAU, top 5 cities", "Messenger\nDAU, top 5 cities", "Messenger\nEngagement"},
			{"Feed\nDAU", "Feed\nAverage likes", "Feed\nAverage views"},
		},
		UsersAxis:      "Users",
		Last24h:        "Last 24 hours",
		Previous24h:    "Previous day",
		CurrentWeeks:   "Current 2 weeks",
		PreviousWeeks:  "Previous",
		CohortNew:      "New",
		CohortRetained: "Retained",
		CohortGone:     "Gone",
	}, enText),
}

// LookupLocale returns a built-in locale by name.
func LookupLocale(name string) (*Locale, error) {
	l, ok := locales[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown report locale %q", name)
	}
	return l, nil
}

func mustLocale(l *Locale, text string) *Locale {
	funcs := template.FuncMap{
		"int":  func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) },
		"dec":  func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
		"date": func(t time.Time) string { return t.Format(time.DateOnly) },
		"word": l.word,
	}
	l.text = template.Must(template.New(l.Name).Option("missingkey=error").Funcs(funcs).Parse(text))
	return l
}

func (l *Locale) word(d Direction) string {
	if d == Decrease {
		return l.Decrease
	}
	return l.Increase
}

// Text renders the summary with the locale's template.
func (l *Locale) Text(s Summary) (string, error) {
	var b strings.Builder
	if err := l.text.Execute(&b, s); err != nil {
		return "", fmt.Errorf("failed to render %s report text: %w", l.Name, err)
	}
	return b.String(), nil
}
