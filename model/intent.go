package model

import (
	"bookbot/utils"
	"strings"
)

type IntentName string

const (
	IntentCancel                    IntentName = "Cancel"
	IntentHelp                      IntentName = "Help"
	IntentSayHello                  IntentName = "SayHello"
	IntentNone                      IntentName = "None"
	IntentAskToRecommendBook        IntentName = "AskToRecommendBook"
	IntentTellAuthorOfSpecificBook  IntentName = "TellAuthorOfSpecificBook"
	IntentTellAuthorsBooks          IntentName = "TellAuthorsBooks"
	IntentTellGenresOfBooks         IntentName = "TellGenresOfBooks"
	IntentTellIfBookIsWorthReading  IntentName = "TellIfBookIsWorthReading"
	IntentTellIfAuthorIsVeryFamous  IntentName = "TellIfAuthorIsVeryFamous"
	IntentRecommendBookByPreference IntentName = "RecommendBookByPreference"
)

// Entity names produced by the recognizer.
const (
	EntityAuthorName = "AuthorName"
	EntityBookName   = "BookName"
	EntityGenre      = "Genre"
	EntityUserName   = "UserName"
)

// Intent is the closed set of recognized intents. Each variant carries the
// entities it needs; a missing entity is an empty field.
type Intent interface {
	Name() IntentName
	intent()
}

type (
	Cancel   struct{}
	Help     struct{}
	SayHello struct{}
	None     struct{}

	TellGenresOfBooks struct{}

	AskToRecommendBook struct {
		Genre string
	}
	TellAuthorOfSpecificBook struct {
		BookName string
	}
	TellAuthorsBooks struct {
		AuthorName string
	}
	TellIfBookIsWorthReading struct {
		BookName string
	}
	TellIfAuthorIsVeryFamous struct {
		AuthorName string
	}
	RecommendBookByPreference struct {
		UserName string
	}
)

func (Cancel) Name() IntentName { return IntentCancel }
func (Help) Name() IntentName { return IntentHelp }
func (SayHello) Name() IntentName { return IntentSayHello }
func (None) Name() IntentName { return IntentNone }
func (TellGenresOfBooks) Name() IntentName { return IntentTellGenresOfBooks }
func (AskToRecommendBook) Name() IntentName { return IntentAskToRecommendBook }
func (TellAuthorOfSpecificBook) Name() IntentName { return IntentTellAuthorOfSpecificBook }
func (TellAuthorsBooks) Name() IntentName { return IntentTellAuthorsBooks }
func (TellIfBookIsWorthReading) Name() IntentName { return IntentTellIfBookIsWorthReading }
func (TellIfAuthorIsVeryFamous) Name() IntentName { return IntentTellIfAuthorIsVeryFamous }
func (RecommendBookByPreference) Name() IntentName { return IntentRecommendBookByPreference }

func (Cancel) intent() {}
func (Help) intent() {}
func (SayHello) intent() {}
func (None) intent() {}
func (TellGenresOfBooks) intent() {}
func (AskToRecommendBook) intent() {}
func (TellAuthorOfSpecificBook) intent() {}
func (TellAuthorsBooks) intent() {}
func (TellIfBookIsWorthReading) intent() {}
func (TellIfAuthorIsVeryFamous) intent() {}
func (RecommendBookByPreference) intent() {}

// ParseIntent maps a recognition result onto its typed variant. Unknown and
// empty intent names become None.
func ParseIntent(r RecognitionResult) Intent {
	entity := func(name string) string {
		v, _ := r.Entity(name)
		return strings.TrimSpace(v)
	}

	switch IntentName(strings.TrimSpace(r.TopIntent)) {
	case IntentCancel:
		return Cancel{}
	case IntentHelp:
		return Help{}
	case IntentSayHello:
		return SayHello{}
	case IntentAskToRecommendBook:
		return AskToRecommendBook{Genre: utils.Capitalize(entity(EntityGenre))}
	case IntentTellAuthorOfSpecificBook:
		return TellAuthorOfSpecificBook{BookName: trimQuotes(entity(EntityBookName))}
	case IntentTellAuthorsBooks:
		return TellAuthorsBooks{AuthorName: entity(EntityAuthorName)}
	case IntentTellGenresOfBooks:
		return TellGenresOfBooks{}
	case IntentTellIfBookIsWorthReading:
		return TellIfBookIsWorthReading{BookName: trimQuotes(entity(EntityBookName))}
	case IntentTellIfAuthorIsVeryFamous:
		return TellIfAuthorIsVeryFamous{AuthorName: entity(EntityAuthorName)}
	case IntentRecommendBookByPreference:
		return RecommendBookByPreference{UserName: entity(EntityUserName)}
	default:
		return None{}
	}
}

// The recognizer keeps the quotes users put around titles.
func trimQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(s, `'"`))
}
