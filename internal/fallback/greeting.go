package fallback

import "time"

// Personas served by the anime variant.
const (
	CharacterAIChan = "ai-chan"
	CharacterHaru   = "haru"
)

// Greeting is a canned persona greeting.
type Greeting struct {
	Character   string `json:"character"`
	Greeting    string `json:"greeting"`
	Personality string `json:"personality"`
	Timestamp   string `json:"timestamp"`
	Message     string `json:"message"`
	Fallback    bool   `json:"fallback"`
}

var greetings = map[string]Greeting{
	CharacterAIChan: {
		Character:   "AI-chan",
		Greeting:    "Hello! I'm AI-chan! My analysis engine is resting right now, but I can still check links against my local list ♪",
		Personality: "cheerful_anime_girl",
		Message:     "AI-chan is running in offline mode.",
	},
	CharacterHaru: {
		Character:   "Haru",
		Greeting:    "Hah... the AI service is down. Fine, I'll still give you the basic advice.",
		Personality: "lazy_but_caring_anime_boy",
		Message:     "Haru is running in offline mode... reluctantly.",
	},
}

// GreetingFor returns the canned greeting for character and whether the
// character is known.
func GreetingFor(character string, now time.Time) (Greeting, bool) {
	g, ok := greetings[character]
	if !ok {
		return Greeting{}, false
	}
	g.Timestamp = now.UTC().Format(time.RFC3339)
	g.Fallback = true
	return g, true
}

// KnownCharacter reports whether character is one of the personas.
func KnownCharacter(character string) bool {
	_, ok := greetings[character]
	return ok
}
