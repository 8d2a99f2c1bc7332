package cluster

// semanticGroups is the fixed lexicon of known theme vocabularies. A group
// becomes a theme candidate when any of its member keywords appear in the
// corpus; its score is the aggregate frequency of the members present.
//
// Group names are lowercase keys; display names are title-cased at
// materialization time.
var semanticGroups = map[string][]string{
	"magic": {
		"magic", "trick", "tricks", "card", "cards", "illusion",
		"magician", "sleight", "deck", "shuffle", "coin", "levitation",
	},
	"recipes": {
		"recipe", "recipes", "cooking", "baking", "pasta", "dinner",
		"lunch", "breakfast", "dessert", "meal", "ingredients", "kitchen",
	},
	"finance": {
		"tax", "taxes", "invoice", "receipt", "receipts", "budget",
		"bank", "statement", "payroll", "salary", "expense", "expenses",
		"insurance", "mortgage", "loan", "retirement",
	},
	"travel": {
		"travel", "trip", "vacation", "flight", "hotel", "itinerary",
		"boarding", "passport", "visa", "booking", "airbnb", "tour",
	},
	"music": {
		"music", "song", "songs", "album", "concert", "playlist",
		"guitar", "piano", "band", "lyrics", "mix", "remix",
	},
	"photos": {
		"photo", "photos", "portrait", "selfie", "wedding", "birthday",
		"family", "holiday", "christmas", "sunset", "beach",
	},
	"work": {
		"meeting", "minutes", "report", "proposal", "presentation",
		"contract", "agenda", "project", "client", "resume", "offer",
		"review", "quarterly",
	},
	"school": {
		"homework", "essay", "thesis", "lecture", "notes", "exam",
		"assignment", "syllabus", "course", "semester", "study", "grade",
	},
	"fitness": {
		"workout", "gym", "running", "yoga", "fitness", "exercise",
		"training", "marathon", "weights", "cardio", "diet",
	},
	"gaming": {
		"game", "games", "gaming", "save", "mods", "minecraft",
		"steam", "walkthrough", "speedrun", "stream",
	},
	"health": {
		"medical", "doctor", "prescription", "lab", "xray", "dental",
		"vaccine", "checkup", "health", "therapy",
	},
	"legal": {
		"lease", "deed", "will", "agreement", "legal", "court",
		"notary", "settlement", "license",
	},
	"home": {
		"warranty", "manual", "appliance", "renovation", "furniture",
		"garden", "utilities", "plumbing", "repair",
	},
	"pets": {
		"dog", "cat", "pet", "vet", "puppy", "kitten", "adoption",
	},
	"crypto": {
		"wallet", "bitcoin", "ethereum", "crypto", "nft", "ledger",
		"blockchain",
	},
}
