package reminders

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyReminderTitle    = "reminder.title"
	keyReminderBody     = "reminder.body"
	keyReminderHowTo    = "reminder.how_to"
	keyReminderReward   = "reminder.reward"
	keyCompletionTitle  = "completion.title"
	keyCompletionBody   = "completion.body"
	keyCompletionStreak = "completion.streak"
	keyCompletionBonus  = "completion.bonus"
	keyMilestone        = "completion.milestone"
	keyItem             = "completion.item"
	keyLevelUp          = "completion.level_up"
)

func init() {
	lang := language.English

	message.SetString(lang, keyReminderTitle, "🌱 Habit Reminder")
	message.SetString(lang, keyReminderBody, "Time for %s!")
	message.SetString(lang, keyReminderHowTo, "React with %s when you complete this habit!")
	message.SetString(lang, keyReminderReward, "Worth %d XP before streak bonus.")
	message.SetString(lang, keyCompletionTitle, "✅ %s completed")
	message.SetString(lang, keyCompletionBody, "%s earned %d XP and %d gold (roll %d).")
	message.SetString(lang, keyCompletionStreak, "🔥 Streak: %d days (best %d).")
	message.SetString(lang, keyCompletionBonus, "🎲 %s roll: +%d bonus XP.")
	message.SetString(lang, keyMilestone, "🏆 %d-day milestone: +%d XP.")
	message.SetString(lang, keyItem, "🎁 Found: %s.")
	message.SetString(lang, keyLevelUp, "⬆️ Level up! Now level %d with %d XP total.")
}
