package moderation

// DefaultProfanityWords is the built-in primary blocklist: English profanity,
// personal abuse, slurs and sexual-violence terms. Terms are matched as whole
// words after normalization; multi-word entries are matched as phrases.
var DefaultProfanityWords = []string{
	// profanity
	"fuck", "fucks", "fucked", "fucker", "fuckers", "fucking", "motherfucker",
	"shit", "shits", "shitty", "bullshit", "bitch", "bitches", "bastard",
	"asshole", "dumbass", "jackass", "dick", "dickhead", "cock", "cunt",
	"pussy", "twat", "wanker", "prick", "piss", "whore", "slut", "douchebag",

	// personal abuse
	"idiot", "moron", "retard", "loser",

	// slurs
	"nigger", "nigga", "faggot", "fag", "kike", "spic", "chink", "tranny",

	// sexual violence and exploitation
	"rape", "rapist", "molest", "pedo", "pedophile", "child porn", "send nudes",
}

// DefaultSecondaryWords holds transliterated Hindi abuse terms. Everyday
// words that are only abusive in context ("mar", "chup") are not listed.
var DefaultSecondaryWords = []string{
	"chutiya", "madarchod", "behenchod", "bhenchod", "bhosdike", "randi",
	"gandu", "harami", "kamina", "kutta", "kutte", "saala",
}
