package namespace

// LogicalKey names one category of cached data, independent of account.
type LogicalKey string

// The logical key catalogue. Names are persisted as-is and must not change.
const (
	CachedDietPlan                 LogicalKey = "cached_diet_plan"
	CachedWorkoutPlan              LogicalKey = "cached_workout_plan"
	CachedUserProfile              LogicalKey = "cached_user_profile"
	CompletedMeals                 LogicalKey = "completed_meals"
	CompletedExercises             LogicalKey = "completed_exercises"
	CompletedDietDays              LogicalKey = "completed_diet_days"
	CompletedWorkoutDays           LogicalKey = "completed_workout_days"
	WaterIntake                    LogicalKey = "water_intake"
	WaterCompleted                 LogicalKey = "water_completed"
	AITrainerChat                  LogicalKey = "ai_trainer_chat"
	AITrainerConversations         LogicalKey = "ai_trainer_conversations"
	AITrainerCurrentConversationID LogicalKey = "ai_trainer_current_conversation_id"
	LastCheckedDay                 LogicalKey = "last_checked_day"
	PersonalizedWorkout            LogicalKey = "personalizedWorkout"
	LastWorkoutCompletion          LogicalKey = "lastWorkoutCompletion"
)

var catalogue = []LogicalKey{
	CachedDietPlan,
	CachedWorkoutPlan,
	CachedUserProfile,
	CompletedMeals,
	CompletedExercises,
	CompletedDietDays,
	CompletedWorkoutDays,
	WaterIntake,
	WaterCompleted,
	AITrainerChat,
	AITrainerConversations,
	AITrainerCurrentConversationID,
	LastCheckedDay,
	PersonalizedWorkout,
	LastWorkoutCompletion,
}

// Catalogue returns every logical key in a stable order.
func Catalogue() []LogicalKey {
	out := make([]LogicalKey, len(catalogue))
	copy(out, catalogue)
	return out
}

// IsLogicalKey reports whether name is in the catalogue.
func IsLogicalKey(name string) bool {
	for _, k := range catalogue {
		if string(k) == name {
			return true
		}
	}
	return false
}

// LegacyKey is one pre-namespacing storage key.
type LegacyKey struct {
	// Name is the exact global key written by older versions.
	Name string
	// Target is the logical key the value migrates into. Empty for keys
	// that are never migrated.
	Target LogicalKey
	// Preserve keeps the key on logout.
	Preserve bool
}

var legacyKeys = func() []LegacyKey {
	out := make([]LegacyKey, 0, len(catalogue)+2)
	for _, k := range catalogue {
		out = append(out, LegacyKey{Name: string(k), Target: k})
	}
	return append(out,
		LegacyKey{Name: "has_seen_onboarding", Preserve: true},
		LegacyKey{Name: "app_language", Preserve: true},
	)
}()

// LegacyGlobalKeys returns the fixed allow-list of pre-namespacing keys.
// Matching is by exact name only.
func LegacyGlobalKeys() []LegacyKey {
	out := make([]LegacyKey, len(legacyKeys))
	copy(out, legacyKeys)
	return out
}
