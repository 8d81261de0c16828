package relationship

// Level は親密度スコアから導出される関係の段階です。
type Level string

const (
	LevelStranger     Level = "Stranger"
	LevelAcquaintance Level = "Acquaintance"
	LevelCompanion    Level = "Companion"
	LevelIntimate     Level = "Intimate"
	LevelSoulmate     Level = "Soulmate"
)

var thresholds = []struct {
	below int
	level Level
}{
	{100, LevelStranger},
	{300, LevelAcquaintance},
	{600, LevelCompanion},
	{1000, LevelIntimate},
}

// LevelFor はスコアに対応する段階を返します。スコアに対して単調非減少です。
func LevelFor(affinity int) Level {
	for _, t := range thresholds {
		if affinity < t.below {
			return t.level
		}
	}
	return LevelSoulmate
}
