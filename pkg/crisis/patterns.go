package crisis

import "regexp"

// Per-category indicator patterns, compiled once at package init and
// tested in order. Lexicon overlays append to these lists at detector
// construction; the built-in ordering is stable so assessments are
// reproducible.

var defaultPatterns = map[Category][]*regexp.Regexp{
	CategorySelfHarm: {
		regexp.MustCompile(`(?i)\bkill(?:ing)?\s+myself\b`),
		regexp.MustCompile(`(?i)\bsuicid(?:e|al)\b`),
		regexp.MustCompile(`(?i)\bend(?:ing)?\s+(?:my\s+life|it\s+all)\b`),
		regexp.MustCompile(`(?i)\b(?:hurt|harm|cut)(?:ing|ting)?\s+myself\b`),
		regexp.MustCompile(`(?i)\bself[-\s]?harm\b`),
		regexp.MustCompile(`(?i)\btake\s+(?:them|these|those|the\s+pills)\s+all\b`),
		regexp.MustCompile(`(?i)\boverdos(?:e|ing)\b`),
		regexp.MustCompile(`(?i)\bdon'?t\s+want\s+to\s+(?:live|be\s+alive|wake\s+up)\b`),
		regexp.MustCompile(`(?i)\bbetter\s+off\s+(?:dead|without\s+me)\b`),
		regexp.MustCompile(`(?i)\bno\s+reason\s+to\s+(?:live|go\s+on)\b`),
	},
	CategoryViolence: {
		regexp.MustCompile(`(?i)\bkill\s+(?:him|her|them|you|someone)\b`),
		regexp.MustCompile(`(?i)\b(?:hurt|attack)\s+(?:him|her|them|someone|somebody|people)\b`),
		regexp.MustCompile(`(?i)\bmake\s+(?:him|her|them)\s+pay\b`),
		regexp.MustCompile(`(?i)\b(?:shoot|stab|strangle)\b`),
		regexp.MustCompile(`(?i)\bwant\s+(?:him|her|them)\s+(?:dead|gone)\b`),
		regexp.MustCompile(`(?i)\blose\s+control\s+and\s+hurt\b`),
	},
	CategoryDespair: {
		regexp.MustCompile(`(?i)\bhopeless\b`),
		regexp.MustCompile(`(?i)\bworthless\b`),
		regexp.MustCompile(`(?i)\bno\s+point\s+(?:in|to)\s+anything\b`),
		regexp.MustCompile(`(?i)\bcan'?t\s+(?:go\s+on|take\s+(?:it|this)\s+anymore)\b`),
		regexp.MustCompile(`(?i)\bnothing\s+matters\b`),
		regexp.MustCompile(`(?i)\bcompletely\s+(?:empty|numb)\b`),
		regexp.MustCompile(`(?i)\bburden\s+(?:on|to)\s+everyone\b`),
		regexp.MustCompile(`(?i)\bgiv(?:e|ing)\s+up\s+on\s+(?:everything|life)\b`),
	},
	CategorySubstanceAbuse: {
		regexp.MustCompile(`(?i)\brelaps(?:e|ed|ing)\b`),
		regexp.MustCompile(`(?i)\bcan'?t\s+stop\s+(?:drinking|using|taking)\b`),
		regexp.MustCompile(`(?i)\bdrink(?:ing)?\s+(?:every\s+day|again|to\s+cope|until)\b`),
		regexp.MustCompile(`(?i)\b(?:blacked|blacking)\s+out\b`),
		regexp.MustCompile(`(?i)\bused\s+again\s+last\s+night\b`),
		regexp.MustCompile(`(?i)\bneed\s+(?:a\s+drink|to\s+get\s+high)\b`),
	},
	CategoryMedical: {
		regexp.MustCompile(`(?i)\bchest\s+pain\b`),
		regexp.MustCompile(`(?i)\bcan'?t\s+breathe?\b`),
		regexp.MustCompile(`(?i)\b(?:heavy|uncontrolled)\s+bleeding\b`),
		regexp.MustCompile(`(?i)\bseizure\b`),
		regexp.MustCompile(`(?i)\b(?:passed|passing)\s+out\b`),
		regexp.MustCompile(`(?i)\bunconscious\b`),
		regexp.MustCompile(`(?i)\bstroke\b`),
		regexp.MustCompile(`(?i)\bnumb(?:ness)?\s+(?:in|down)\s+(?:my|one)\s+(?:arm|leg|side)\b`),
	},
}

// Severity markers. Presence of a marker anywhere in the turn boosts
// the severity of every signal in that turn: a stated plan, access to
// means, or immediacy language changes what the same indicator means.
var (
	// specificity: plan and time words.
	specificityMarkers = regexp.MustCompile(`(?i)\b(?:tonight|today|tomorrow|this\s+week(?:end)?|plan(?:ned|ning)?|how\s+to|when\s+everyone|after\s+\w+\s+leaves?|decided)\b`)

	// means: possession of method or weapon.
	meansMarkers = regexp.MustCompile(`(?i)\b(?:(?:have|got|bought|found|keep)\s+(?:a\s+|the\s+|some\s+)?(?:pills?|gun|knife|rope|razor|blade|weapon)|enough\s+pills?)\b`)

	// immediacy: the act is underway or about to be.
	immediacyMarkers = regexp.MustCompile(`(?i)\b(?:right\s+now|now|going\s+to|about\s+to|can'?t\s+wait(?:\s+any)?\s*longer|already\s+started)\b`)
)

// Marker boost weights and the base severity for any category match.
// Stated as defaults in the product documentation, not clinically
// validated; Config overrides them per deployment.
const (
	defaultBaseSeverity     = 0.5
	defaultSpecificityBoost = 0.3
	defaultMeansBoost       = 0.4
	defaultImmediacyBoost   = 0.2
)
