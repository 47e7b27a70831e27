package subst

// Level is the protection level a protected unit compiles under (§4.5's
// behavioral matrix). The open question of exact menu sizes per level
// (§9 "open questions" (a)) is resolved here: each level gets a distinct,
// documented density rather than a single shared constant.
type Level int

const (
	LevelDebug Level = iota
	LevelStandard
	LevelParanoid
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelStandard:
		return "standard"
	case LevelParanoid:
		return "paranoid"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config/CLI string onto a Level, defaulting to
// LevelStandard for an empty or unrecognized value (buildcfg.LevelName
// follows the same convention).
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "paranoid":
		return LevelParanoid
	default:
		return LevelStandard
	}
}

// Density bundles the per-level knobs that gate how aggressively the
// compiler applies each substitution family. The Chance fields are out of
// 256 so a single Stream.Choice(256) draw (or CoinFlip against 256) can test
// them.
type Density struct {
	// MBADenominator is the denominator used for CoinFlip(1, MBADenominator)
	// when deciding whether to replace a direct arithmetic lowering with a
	// random non-direct MBA variant; lower values mean more substitution.
	MBADenominator int
	// ValueCryptor enables the literal-push decryption-chain rewrite.
	ValueCryptor bool
	// ChainLenMin/Max bound the value cryptor's operation chain length
	// (spec requires 3-7 operations).
	ChainLenMin, ChainLenMax int
	// OpaquePredicateChance is the probability (out of 256) that an opaque
	// predicate is inserted ahead of a given branch site. The compiler does
	// not read it: no branch site receives an opaque predicate at any level.
	OpaquePredicateChance int
	// DeadCodeChance is the probability (out of 256) that a dead-code
	// snippet is inserted at a given candidate position.
	DeadCodeChance int
}

// ForLevel returns the Density for a given protection level, matching
// spec §4.5's ordinal low/medium/high progression.
func ForLevel(level Level) Density {
	switch level {
	case LevelDebug:
		return Density{
			MBADenominator:        250, // low but nonzero: rare MBA substitution, not "off"
			ValueCryptor:          false,
			ChainLenMin:           0,
			ChainLenMax:           0,
			OpaquePredicateChance: 0,
			DeadCodeChance:        0,
		}
	case LevelStandard:
		return Density{
			MBADenominator:        3,
			ValueCryptor:          false,
			ChainLenMin:           3,
			ChainLenMax:           5,
			OpaquePredicateChance: 24,
			DeadCodeChance:        24,
		}
	case LevelParanoid:
		return Density{
			MBADenominator:        1,
			ValueCryptor:          true,
			ChainLenMin:           4,
			ChainLenMax:           7,
			OpaquePredicateChance: 160,
			DeadCodeChance:        160,
		}
	default:
		return ForLevel(LevelStandard)
	}
}
