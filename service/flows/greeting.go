package flows

import (
	"bookbot/model"
	"bookbot/service/dialog"
	"bookbot/utils"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ==================== Greeting flow ====================
// Collects the user's name and favorite genre, then recommends a book.

const (
	GreetingDialogID = "greeting"
	NamePromptID     = "namePrompt"
	GenrePromptID    = "genrePrompt"
	NameMinLength    = 3

	// Options accepted by the greeting dialog for a new profile.
	OptionName  = "name"
	OptionGenre = "genre"
)

// Recommender renders a book recommendation for a genre.
type Recommender interface {
	RecommendBook(ctx context.Context, genre string) string
}

// RegisterGreeting adds the greeting waterfall and its prompts to set.
func RegisterGreeting(set *dialog.Set, books Recommender) {
	g := &greeting{books: books}
	set.Add(dialog.NewWaterfall(GreetingDialogID,
		g.initializeState,
		g.promptForName,
		g.promptForGenre,
		g.displayGreeting,
	))
	set.Add(dialog.NewTextPrompt(NamePromptID, ValidateName))
	set.Add(dialog.NewTextPrompt(GenrePromptID, ValidateGenre))
}

// ValidateName accepts names of at least NameMinLength characters after trimming.
func ValidateName(value string) (string, string) {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) >= NameMinLength {
		return value, ""
	}
	return "", fmt.Sprintf("Names needs to be at least `%d` characters long.", NameMinLength)
}

func ValidateGenre(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value != "" {
		return value, ""
	}
	return "", "Genre name has to be string"
}

type greeting struct {
	books Recommender
}

func loadProfile(ctx context.Context, sc *dialog.StepContext) (*model.UserProfile, error) {
	var profile *model.UserProfile
	if _, err := sc.UserState().Get(ctx, model.ProfileStateKey, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (g *greeting) initializeState(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
	profile, err := loadProfile(ctx, sc)
	if err != nil {
		return dialog.TurnResult{}, err
	}
	if profile == nil {
		profile = &model.UserProfile{
			Name:  utils.Capitalize(sc.Options[OptionName]),
			Genre: utils.Capitalize(sc.Options[OptionGenre]),
		}
		if err := sc.UserState().Set(model.ProfileStateKey, profile); err != nil {
			return dialog.TurnResult{}, err
		}
	}
	return sc.Next(ctx, "")
}

func (g *greeting) promptForName(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
	profile, err := loadProfile(ctx, sc)
	if err != nil {
		return dialog.TurnResult{}, err
	}
	if profile.Complete() {
		return g.greetUser(ctx, sc, profile)
	}
	if profile == nil || profile.Name == "" {
		return sc.Prompt(ctx, NamePromptID, "Hello! What is your name?")
	}
	return sc.Next(ctx, "")
}

func (g *greeting) promptForGenre(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
	profile, err := loadProfile(ctx, sc)
	if err != nil {
		return dialog.TurnResult{}, err
	}
	if profile == nil {
		profile = &model.UserProfile{}
	}
	if profile.Name == "" && sc.Result != "" {
		profile.Name = utils.Capitalize(sc.Result)
		if err := sc.UserState().Set(model.ProfileStateKey, profile); err != nil {
			return dialog.TurnResult{}, err
		}
	}
	if profile.Genre == "" {
		return sc.Prompt(ctx, GenrePromptID, fmt.Sprintf("Nice to meet you, %s! What is your favorite book genre?", profile.Name))
	}
	return sc.Next(ctx, "")
}

func (g *greeting) displayGreeting(ctx context.Context, sc *dialog.StepContext) (dialog.TurnResult, error) {
	profile, err := loadProfile(ctx, sc)
	if err != nil {
		return dialog.TurnResult{}, err
	}
	if profile == nil {
		profile = &model.UserProfile{}
	}
	if profile.Genre == "" && strings.TrimSpace(sc.Result) != "" {
		profile.Genre = utils.Capitalize(sc.Result)
		if err := sc.UserState().Set(model.ProfileStateKey, profile); err != nil {
			return dialog.TurnResult{}, err
		}
	}
	return g.greetUser(ctx, sc, profile)
}

func (g *greeting) greetUser(ctx context.Context, sc *dialog.StepContext, profile *model.UserProfile) (dialog.TurnResult, error) {
	book := g.books.RecommendBook(ctx, profile.Genre)
	if err := sc.SendText(ctx, fmt.Sprintf("Dear %s, %s", profile.Name, book)); err != nil {
		return dialog.TurnResult{}, err
	}
	return sc.End(ctx, "")
}
