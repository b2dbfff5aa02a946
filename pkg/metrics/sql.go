package metrics

// Table names resolve against the connection's configured database.

const hourlySQL = `
	SELECT
		toStartOfHour(time) AS bucket,
		uniqExact(user_id) AS users
	FROM {table}
	WHERE time >= toStartOfHour(@executed_at) - INTERVAL 47 HOUR
		AND time <= @executed_at
	GROUP BY bucket
	ORDER BY bucket
`

const hourlyBothSQL = `
	SELECT
		m.hour AS bucket,
		uniqExact(m.user_id) AS users
	FROM (
		SELECT DISTINCT toStartOfHour(time) AS hour, user_id
		FROM message_actions
		WHERE time >= toStartOfHour(@executed_at) - INTERVAL 47 HOUR
			AND time <= @executed_at
	) AS m
	INNER JOIN (
		SELECT DISTINCT toStartOfHour(time) AS hour, user_id
		FROM feed_actions
		WHERE time >= toStartOfHour(@executed_at) - INTERVAL 47 HOUR
			AND time <= @executed_at
	) AS f ON m.user_id = f.user_id AND m.hour = f.hour
	GROUP BY bucket
	ORDER BY bucket
`

const cityDAUSQL = `
	SELECT
		toDate(time) AS bucket,
		city,
		uniqExact(user_id) AS dau
	FROM {table}
	WHERE toDate(time) BETWEEN toDate(@report_date) - 7 AND toDate(@report_date)
		AND country = @country
		AND has(@cities, city)
	GROUP BY bucket, city
	ORDER BY bucket, city
`

const feedEngagementSQL = `
	SELECT
		bucket,
		uniqExact(user_id) AS dau,
		avg(likes) AS avg_likes,
		avg(views) AS avg_views
	FROM (
		SELECT
			toDate(time) AS bucket,
			user_id,
			countIf(action = 'like') AS likes,
			countIf(action = 'view') AS views
		FROM feed_actions
		WHERE toDate(time) BETWEEN toDate(@report_date) - 27 AND toDate(@report_date)
		GROUP BY bucket, user_id
	)
	GROUP BY bucket
	ORDER BY bucket
`

const messagingEngagementSQL = `
	SELECT
		toDate(time) AS bucket,
		uniqExact(user_id) AS dau,
		count() AS messages
	FROM message_actions
	WHERE toDate(time) BETWEEN toDate(@report_date) - 27 AND toDate(@report_date)
	GROUP BY bucket
	ORDER BY bucket
`

const dailyBothSQL = `
	SELECT
		m.day AS bucket,
		uniqExact(m.user_id) AS dau
	FROM (
		SELECT DISTINCT toDate(time) AS day, user_id
		FROM message_actions
		WHERE toDate(time) BETWEEN toDate(@report_date) - 27 AND toDate(@report_date)
	) AS m
	INNER JOIN (
		SELECT DISTINCT toDate(time) AS day, user_id
		FROM feed_actions
		WHERE toDate(time) BETWEEN toDate(@report_date) - 27 AND toDate(@report_date)
	) AS f ON m.user_id = f.user_id AND m.day = f.day
	GROUP BY bucket
	ORDER BY bucket
`

// cohortSQL builds every user's set of active weeks, then for each
// (user, week) checks the neighbouring weeks. Counts are keyed by the week a
// user arrives in: new and retained users at w, and users that left after w-1.
const cohortSQL = `
	WITH
		weekly AS (
			SELECT
				user_id,
				groupUniqArray(toMonday(toDate(time))) AS weeks
			FROM {table}
			WHERE toDate(time) <= toDate(@report_date)
			GROUP BY user_id
		),
		visits AS (
			SELECT
				user_id,
				arrayJoin(weeks) AS week,
				has(weeks, addWeeks(week, -1)) AS had_prev,
				has(weeks, addWeeks(week, 1)) AS has_next
			FROM weekly
		)
	SELECT
		bucket,
		sum(arrived) AS new_users,
		sum(stayed) AS retained_users,
		-sum(departed) AS gone_users
	FROM (
		SELECT
			week AS bucket,
			countIf(NOT had_prev) AS arrived,
			countIf(had_prev) AS stayed,
			toUInt64(0) AS departed
		FROM visits
		GROUP BY bucket
		UNION ALL
		SELECT
			addWeeks(week, 1) AS bucket,
			toUInt64(0) AS arrived,
			toUInt64(0) AS stayed,
			countIf(NOT has_next) AS departed
		FROM visits
		GROUP BY bucket
	)
	WHERE bucket <= toMonday(toDate(@report_date))
	GROUP BY bucket
	ORDER BY bucket
`
