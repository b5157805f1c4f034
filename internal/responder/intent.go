package responder

import (
	"strings"
	"unicode"
)

// Intent is the coarse purpose of an inbound message.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentHelp     Intent = "help"
	IntentStop     Intent = "stop"
	IntentMedia    Intent = "media"
	IntentChat     Intent = "chat"
)

var (
	greetingWords = map[string]bool{
		"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true,
		"hola": true, "ola": true, "olá": true, "bonjour": true, "ciao": true,
		"yo": true, "greetings": true,
	}
	greetingPhrases = []string{"good morning", "good afternoon", "good evening", "buenos dias", "buenas tardes"}
	helpWords       = map[string]bool{"help": true, "menu": true, "options": true, "ayuda": true, "info": true}
	stopWords       = map[string]bool{"stop": true, "unsubscribe": true, "cancel": true, "quit": true, "end": true}
)

// maxGreetingWords keeps "hi, my order never arrived" out of the greeting bucket.
const maxGreetingWords = 3

// Classify maps message text to an Intent with a small rule table.
// Anything it does not recognise is IntentChat.
func Classify(text string) Intent {
	words := normalize(text)
	if len(words) == 0 {
		return IntentChat
	}

	if len(words) == 1 {
		switch {
		case stopWords[words[0]]:
			return IntentStop
		case helpWords[words[0]]:
			return IntentHelp
		}
	}
	if len(words) <= maxGreetingWords {
		if greetingWords[words[0]] {
			return IntentGreeting
		}
		joined := strings.Join(words, " ")
		for _, p := range greetingPhrases {
			if strings.HasPrefix(joined, p) {
				return IntentGreeting
			}
		}
	}
	return IntentChat
}

// normalize lower-cases text and splits it into words, dropping punctuation and emoji.
func normalize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
